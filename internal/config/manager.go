package config

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/caarlos0/env/v11"

	logx "msghook/pkg/logx"
)

// Manager holds the live config. Readers call Get for a consistent pointer;
// reloads replace it wholesale and notify subscribers.
type Manager struct {
	path string
	log  logx.Logger

	cur    atomic.Pointer[Config]
	digest [sha256.Size]byte // of cur, guarded by commitMu
	extra  func(ctx context.Context, cfg *Config) error

	commitMu sync.Mutex

	subMu sync.Mutex
	subs  map[chan *Config]struct{}
}

func NewManager(path string) *Manager {
	return &Manager{path: path, log: logx.Nop(), subs: map[chan *Config]struct{}{}}
}

func (m *Manager) Path() string { return m.path }

func (m *Manager) SetLogger(log logx.Logger) { m.log = log.With(logx.String("comp", "config")) }

// SetValidator adds a check that runs after Config.Validate on every load
// and reload.
func (m *Manager) SetValidator(fn func(ctx context.Context, cfg *Config) error) { m.extra = fn }

// Parse reads and decodes the file with env overrides and defaults applied.
// The result is not validated.
func (m *Manager) Parse() (*Config, error) {
	raw, err := os.ReadFile(m.path)
	if err != nil {
		return nil, err
	}
	return decode(m.path, raw)
}

func decode(path string, raw []byte) (*Config, error) {
	data, err := coerceToJSONBytes(path, raw)
	if err != nil {
		return nil, err
	}

	cfg := new(Config)
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	switch err := dec.Decode(new(json.RawMessage)); {
	case errors.Is(err, io.EOF):
	case err == nil:
		return nil, fmt.Errorf("%s: trailing data after config object", filepath.Base(path))
	default:
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("environment: %w", err)
	}
	cfg.ApplyDefaults()
	return cfg, nil
}

func (m *Manager) check(ctx context.Context, cfg *Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if m.extra == nil {
		return nil
	}
	return m.extra(ctx, cfg)
}

// Load is the startup path: parse, validate, commit.
func (m *Manager) Load(ctx context.Context) (*Config, error) {
	cfg, err := m.Parse()
	if err != nil {
		return nil, err
	}
	if err := m.check(ctx, cfg); err != nil {
		return nil, err
	}
	m.commitMu.Lock()
	m.cur.Store(cfg)
	m.digest = digestOf(cfg)
	m.commitMu.Unlock()
	return cfg, nil
}

func (m *Manager) Get() *Config { return m.cur.Load() }

// digestOf fingerprints the effective config, so a save that changes only
// whitespace, or an env override that matches the file, is not a change.
func digestOf(cfg *Config) [sha256.Size]byte {
	b, _ := json.Marshal(cfg)
	return sha256.Sum256(b)
}

// Subscribe returns a channel that receives every committed reload. A slow
// reader only ever sees the newest pending config.
func (m *Manager) Subscribe(buffer int) chan *Config {
	ch := make(chan *Config, max(buffer, 1))
	m.subMu.Lock()
	m.subs[ch] = struct{}{}
	m.subMu.Unlock()
	return ch
}

// Unsubscribe removes and closes ch. Unknown channels are ignored.
func (m *Manager) Unsubscribe(ch chan *Config) {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	if _, ok := m.subs[ch]; ok {
		delete(m.subs, ch)
		close(ch)
	}
}

func (m *Manager) notify(cfg *Config) {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	for ch := range m.subs {
		for {
			select {
			case ch <- cfg:
			default:
				// make room by discarding the stale entry, then retry
				select {
				case <-ch:
				default:
				}
				continue
			}
			break
		}
	}
}
