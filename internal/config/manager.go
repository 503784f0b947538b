package config

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	logx "dicebot/pkg/logx"

	"github.com/fsnotify/fsnotify"
)

const (
	validateTimeout = 5 * time.Second
	watchDebounce   = 250 * time.Millisecond
	watchBackoffMin = 250 * time.Millisecond
	watchBackoffMax = 5 * time.Second
)

// ConfigManager owns dicebot's config file: the snapshot in effect, the
// reload path used by "/roll reload" and the file watcher, and the
// subscribers that apply a new snapshot.
type ConfigManager struct {
	path string

	mu       sync.RWMutex
	cfg      *Config
	lastHash uint64 // content hash of cfg; 0 before the first commit

	// subsMu is held while sending so Unsubscribe never closes a channel mid-send.
	subsMu sync.Mutex
	subs   []chan *Config

	log       logx.Logger
	validator func(ctx context.Context, cfg *Config) error
}

func NewConfigManager(path string) *ConfigManager {
	return &ConfigManager{path: path, log: logx.Nop()}
}

// EnsureFile writes the embedded default config to the manager's path when
// no file exists yet. It reports whether a file was created.
func (m *ConfigManager) EnsureFile() (bool, error) {
	if _, err := os.Stat(m.path); err == nil {
		return false, nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return false, err
	}
	if dir := filepath.Dir(m.path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return false, fmt.Errorf("create config dir: %w", err)
		}
	}
	data, err := DefaultFor(m.path)
	if err != nil {
		return false, err
	}
	if err := os.WriteFile(m.path, data, 0o644); err != nil {
		return false, fmt.Errorf("write default config: %w", err)
	}
	return true, nil
}

// SetLogger must be called before Watch.
func (m *ConfigManager) SetLogger(log logx.Logger) {
	if log.IsZero() {
		log = logx.Nop()
	}
	m.log = log
}

// SetValidator installs the hook Reload runs before a new config is committed.
func (m *ConfigManager) SetValidator(fn func(ctx context.Context, cfg *Config) error) {
	m.validator = fn
}

// Parse reads and strictly decodes the file without committing it. Unknown
// top-level keys and trailing documents are errors; plugin blocks stay raw
// and are checked by their plugin.
func (m *ConfigManager) Parse() (*Config, error) {
	raw, err := os.ReadFile(m.path)
	if err != nil {
		return nil, err
	}
	jb, err := toJSON(m.path, raw)
	if err != nil {
		return nil, err
	}
	return decodeStrict(jb)
}

func decodeStrict(jb []byte) (*Config, error) {
	var cfg Config
	dec := json.NewDecoder(bytes.NewReader(jb))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return nil, err
	}
	switch err := dec.Decode(&struct{}{}); {
	case err == io.EOF:
		return &cfg, nil
	case err == nil:
		return nil, errors.New("invalid config: trailing data")
	default:
		return nil, err
	}
}

// Commit makes cfg the snapshot in effect without notifying subscribers.
func (m *ConfigManager) Commit(cfg *Config) {
	h := contentHash(cfg)
	m.mu.Lock()
	m.cfg, m.lastHash = cfg, h
	m.mu.Unlock()
}

// Load is Parse followed by Commit; used once at startup.
func (m *ConfigManager) Load() (*Config, error) {
	cfg, err := m.Parse()
	if err != nil {
		return nil, err
	}
	m.Commit(cfg)
	return cfg, nil
}

func (m *ConfigManager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

// Subscribe returns a channel that receives every published config. A slow
// reader loses older snapshots, never the newest one.
func (m *ConfigManager) Subscribe(buffer int) chan *Config {
	ch := make(chan *Config, max(buffer, 1))
	m.subsMu.Lock()
	m.subs = append(m.subs, ch)
	m.subsMu.Unlock()
	return ch
}

func (m *ConfigManager) Unsubscribe(ch chan *Config) {
	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	for i, s := range m.subs {
		if s == ch {
			m.subs = append(m.subs[:i], m.subs[i+1:]...)
			close(ch)
			return
		}
	}
}

func (m *ConfigManager) publish(cfg *Config) {
	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	for _, ch := range m.subs {
		select {
		case ch <- cfg:
			continue
		default:
		}
		// full: drop the oldest pending snapshot so the newest one fits
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- cfg:
		default:
		}
	}
}

// Reload re-reads the file, validates it and, when the content differs from
// the last committed config, commits and publishes it to subscribers.
//
// It returns the config now in effect and whether it changed. On error the
// previous config stays in effect.
func (m *ConfigManager) Reload(ctx context.Context) (*Config, bool, error) {
	next, err := m.Parse()
	if err != nil {
		return m.Get(), false, fmt.Errorf("parse %s: %w", m.path, err)
	}

	h := contentHash(next)
	m.mu.RLock()
	cur, same := m.cfg, h != 0 && h == m.lastHash
	m.mu.RUnlock()
	if same {
		m.log.Debug("config unchanged", logx.String("path", m.path))
		return cur, false, nil
	}

	if m.validator != nil {
		vctx, cancel := context.WithTimeout(ctx, validateTimeout)
		err := m.validator(vctx, next)
		cancel()
		if err != nil {
			return cur, false, fmt.Errorf("config rejected: %w", err)
		}
	}

	m.Commit(next)
	m.publish(next)
	m.log.Debug("config published", logx.String("path", m.path), logx.String("hash", fmt.Sprintf("%016x", h)))
	return next, true, nil
}

// Watch reloads the file whenever it changes on disk until ctx ends. The
// parent directory is watched so editors that replace the file by rename are
// seen too. A broken watcher is recreated with jittered backoff.
func (m *ConfigManager) Watch(ctx context.Context) error {
	dir, file := filepath.Dir(m.path), filepath.Base(m.path)
	reload := m.debouncedReload(ctx)
	backoff := watchBackoffMin

	for ctx.Err() == nil {
		err := m.watchDir(ctx, dir, file, reload, func() { backoff = watchBackoffMin })
		if ctx.Err() != nil {
			break
		}
		wait := backoff + rand.N(backoff/2+1)
		backoff = min(backoff*2, watchBackoffMax)
		m.log.Warn("config watcher restarting", logx.String("dir", dir), logx.Duration("backoff", wait), logx.Err(err))
		select {
		case <-ctx.Done():
		case <-time.After(wait):
		}
	}
	return nil
}

// watchDir runs one fsnotify watcher and returns when it breaks. started is
// called once the directory is being watched.
func (m *ConfigManager) watchDir(ctx context.Context, dir, file string, reload, started func()) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("new watcher: %w", err)
	}
	defer w.Close()
	if err := w.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	started()
	m.log.Debug("watching config", logx.String("dir", dir), logx.String("file", file))

	const relevant = fsnotify.Write | fsnotify.Create | fsnotify.Rename | fsnotify.Remove | fsnotify.Chmod
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return errors.New("event channel closed")
			}
			if ev.Op&relevant != 0 && strings.EqualFold(filepath.Base(ev.Name), file) {
				reload()
			}
		case err, ok := <-w.Errors:
			if !ok {
				return errors.New("error channel closed")
			}
			if err == nil {
				continue
			}
			if errors.Is(err, fsnotify.ErrEventOverflow) {
				// events were lost; the file may have changed
				m.log.Warn("config watch overflow; reloading", logx.Err(err))
				reload()
				continue
			}
			m.log.Warn("config watch error", logx.Err(err))
		}
	}
}

// debouncedReload coalesces a burst of write events into one Reload.
func (m *ConfigManager) debouncedReload(ctx context.Context) func() {
	var (
		mu    sync.Mutex
		timer *time.Timer
	)
	return func() {
		mu.Lock()
		defer mu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(watchDebounce, func() {
			if ctx.Err() != nil {
				return
			}
			if _, _, err := m.Reload(ctx); err != nil {
				m.log.Warn("config reload failed", logx.String("path", m.path), logx.Err(err))
			}
		})
	}
}
