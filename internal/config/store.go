package config

import (
	"log/slog"
	"sync/atomic"
)

// Store holds the current configuration behind an atomic pointer. Reload
// swaps the whole struct at once; stages read a consistent snapshot per
// processing cycle and never observe a half-applied config.
type Store struct {
	path string
	ptr  atomic.Pointer[Config]
}

func NewStore(path string) (*Store, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	s := &Store{path: path}
	s.ptr.Store(cfg)
	return s, nil
}

// Current returns the active configuration snapshot.
func (s *Store) Current() *Config {
	return s.ptr.Load()
}

// Reload re-reads the config file and swaps it in. A failed reload keeps the
// previous config active.
func (s *Store) Reload() error {
	cfg, err := Load(s.path)
	if err != nil {
		slog.Error("Config reload failed, keeping previous config", "path", s.path, "error", err)
		return err
	}
	s.ptr.Store(cfg)
	slog.Info("Config reloaded", "path", s.path)
	return nil
}
