package config

import (
	"context"
	"encoding/hex"
	"errors"
	"math/rand/v2"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	logx "msghook/pkg/logx"
)

const (
	reloadDebounce  = 250 * time.Millisecond
	validateTimeout = 5 * time.Second

	watchRetryMin = 250 * time.Millisecond
	watchRetryMax = 5 * time.Second
)

var errWatcherClosed = errors.New("watcher channels closed")

// reload tries the file once. Parse and validation failures are logged and
// the committed config stays in place.
func (m *Manager) reload(ctx context.Context) {
	cfg, err := m.Parse()
	if err != nil {
		m.log.Warn("config reload: parse failed", logx.String("path", m.path), logx.Err(err))
		return
	}

	sum := digestOf(cfg)
	m.commitMu.Lock()
	same := sum == m.digest
	m.commitMu.Unlock()
	if same {
		m.log.Debug("config reload: content unchanged", logx.String("path", m.path))
		return
	}

	vctx, cancel := context.WithTimeout(ctx, validateTimeout)
	err = m.check(vctx, cfg)
	cancel()
	if err != nil {
		m.log.Warn("config reload: rejected", logx.String("path", m.path), logx.Err(err))
		return
	}

	m.commitMu.Lock()
	m.cur.Store(cfg)
	m.digest = sum
	m.commitMu.Unlock()
	m.notify(cfg)
	m.log.Info("config reloaded", logx.String("path", m.path), logx.String("sha256", hex.EncodeToString(sum[:6])))
}

// Watch reloads the file after it changes until ctx ends. It watches the
// parent directory, which also catches editors that save by rename. A
// failing watcher is recreated with backoff.
func (m *Manager) Watch(ctx context.Context) error {
	retry := watchRetryMin
	for {
		began := time.Now()
		err := m.watchOnce(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if time.Since(began) > time.Minute {
			retry = watchRetryMin
		}
		wait := retry + rand.N(retry/2+1)
		m.log.Warn("config watcher failed; retrying", logx.Err(err), logx.Duration("in", wait))
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
		}
		retry = min(retry*2, watchRetryMax)
	}
}

func (m *Manager) watchOnce(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	dir, name := filepath.Split(filepath.Clean(m.path))
	if dir == "" {
		dir = "."
	}
	if err := w.Add(dir); err != nil {
		return err
	}
	m.log.Debug("watching config", logx.String("dir", dir), logx.String("file", name))

	// Reloads run on this goroutine, so two never overlap.
	debounce := time.NewTimer(reloadDebounce)
	debounce.Stop()
	defer debounce.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-debounce.C:
			m.reload(ctx)
		case ev, ok := <-w.Events:
			if !ok {
				return errWatcherClosed
			}
			if filepath.Base(ev.Name) == name && ev.Op&^fsnotify.Chmod != 0 {
				debounce.Reset(reloadDebounce)
			}
		case err, ok := <-w.Errors:
			if !ok {
				return errWatcherClosed
			}
			if errors.Is(err, fsnotify.ErrEventOverflow) {
				m.log.Warn("config watcher overflowed; reloading", logx.String("dir", dir))
				debounce.Reset(reloadDebounce)
				continue
			}
			m.log.Warn("config watcher error", logx.Err(err))
		}
	}
}
