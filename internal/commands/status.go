package commands

import (
	"context"

	"msghook/internal/relay"
)

// StatusCommand is /msg_status: it replies with the relay status report
// built from a fresh config snapshot.
func StatusCommand(snapshot func() relay.Config) Command {
	return Command{
		Name:        "msg_status",
		Aliases:     []string{"status"},
		Description: "查看消息转发插件状态",
		Handle: func(ctx context.Context, req *Request) error {
			return req.Reply(ctx, relay.RenderStatus(snapshot()))
		},
	}
}
