// Package transport defines the seam between msghook and a chat platform.
// The relay only sends; the command front-end also reads.
package transport

import "context"

// Message is one inbound text message.
type Message struct {
	ID       int
	ChatID   int64
	ThreadID int
	FromID   int64
	Text     string
}

// ChatTarget addresses a chat, optionally a forum topic inside it.
type ChatTarget struct {
	ChatID   int64
	ThreadID int
}

// MessageRef identifies a message the platform accepted.
type MessageRef struct {
	ChatID    int64
	MessageID int
}

type SendOptions struct {
	ParseMode      string // "" sends plain text
	DisablePreview bool
}

type Adapter interface {
	// Start begins delivering inbound messages to out. It must not block.
	Start(ctx context.Context, out chan<- Message) error
	Stop(ctx context.Context) error

	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
}

// BotCommand is one entry of the platform's command menu.
type BotCommand struct {
	Command     string
	Description string
}

// CommandMenuUpdater is implemented by adapters that can publish a menu.
type CommandMenuUpdater interface {
	UpdateMenuCommands(ctx context.Context, cmds []BotCommand) error
}
