package logx

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	kit "msghook/internal/transport"
)

type Config struct {
	Level    string
	Console  bool
	File     FileConfig
	Telegram TelegramConfig
}

type FileConfig struct {
	Enabled bool
	Path    string
}

// TelegramConfig routes events at or above MinLevel to a chat. The sink
// stays silent while ChatID is 0.
type TelegramConfig struct {
	Enabled    bool
	ChatID     int64
	ThreadID   int
	MinLevel   string
	RatePerSec int
}

const defaultLogFile = "./msghook.log"

// Service owns the log outputs. Loggers taken from it keep working across
// Apply calls.
type Service struct {
	zl atomic.Pointer[zerolog.Logger]

	mu       sync.Mutex
	file     *os.File
	filePath string
	tg       *telegramSink
	sender   kit.Adapter
}

// New applies cfg and returns the Service with its root Logger. sender may
// be nil and set later with SetSender.
func New(cfg Config, sender kit.Adapter) (*Service, Logger) {
	initGlobals()
	s := &Service{sender: sender}
	s.Apply(cfg)
	return s, s.Logger()
}

func (s *Service) current() *zerolog.Logger { return s.zl.Load() }

func (s *Service) Logger() Logger { return Logger{src: s} }

// SetSender sets the adapter used by the Telegram sink.
func (s *Service) SetSender(sender kit.Adapter) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sender = sender
	if s.tg != nil {
		s.tg.setSender(sender)
	}
}

// Apply rebuilds the output chain from cfg. It is safe to call while other
// goroutines log.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var outs []io.Writer
	if cfg.Console {
		outs = append(outs, consoleWriter())
	}

	var stale *os.File
	if cfg.File.Enabled {
		path := strings.TrimSpace(cfg.File.Path)
		if path == "" {
			path = defaultLogFile
		}
		if s.file == nil || s.filePath != path {
			f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
			if err != nil {
				fmt.Fprintf(os.Stderr, "logx: open %s: %v\n", path, err)
			} else {
				stale, s.file, s.filePath = s.file, f, path
			}
		}
		if s.file != nil {
			outs = append(outs, zerolog.SyncWriter(s.file))
		}
	} else if s.file != nil {
		stale, s.file, s.filePath = s.file, nil, ""
	}

	if cfg.Telegram.Enabled {
		if s.tg == nil {
			s.tg = newTelegramSink(s.sender)
		}
		s.tg.configure(cfg.Telegram)
		outs = append(outs, &zerolog.FilteredLevelWriter{
			Writer: s.tg,
			Level:  ParseLevel(cfg.Telegram.MinLevel, zerolog.WarnLevel),
		})
	} else if s.tg != nil {
		s.tg.configure(TelegramConfig{})
	}

	if len(outs) == 0 {
		outs = append(outs, consoleWriter())
	}
	zl := zerolog.New(zerolog.MultiLevelWriter(outs...)).
		Level(ParseLevel(cfg.Level, zerolog.InfoLevel)).
		With().Timestamp().Logger()
	s.zl.Store(&zl)

	if stale != nil {
		_ = stale.Close()
	}
}

// Close flushes the Telegram queue (bounded) and closes the log file.
// Logging after Close still goes to the console outputs.
func (s *Service) Close() error {
	s.mu.Lock()
	tg, f := s.tg, s.file
	s.tg, s.file, s.filePath = nil, nil, ""
	s.mu.Unlock()

	if tg != nil {
		tg.close()
	}
	if f != nil {
		return f.Close()
	}
	return nil
}

func consoleWriter() io.Writer {
	return zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: timeFormat}
}
