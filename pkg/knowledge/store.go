package knowledge

import (
	"log/slog"
	"sync/atomic"
)

// Store publishes the current knowledge snapshot. A reload swaps the pointer
// atomically: cases already running keep the snapshot they started with.
type Store struct {
	path    string
	current atomic.Pointer[Knowledge]
}

// NewStore loads the pack at path (empty for the embedded default).
func NewStore(path string) (*Store, error) {
	k, err := Load(path)
	if err != nil {
		return nil, err
	}
	s := &Store{path: path}
	s.publish(k)
	return s, nil
}

// NewStaticStore wraps an already compiled snapshot; Reload is a no-op.
func NewStaticStore(k *Knowledge) *Store {
	s := &Store{}
	s.current.Store(k)
	return s
}

// Path is the watched pack file, "" for embedded or static stores.
func (s *Store) Path() string {
	return s.path
}

// Current returns the snapshot new cases should use.
func (s *Store) Current() *Knowledge {
	return s.current.Load()
}

// Reload re-reads the pack file. On error the previous snapshot stays live.
func (s *Store) Reload() error {
	if s.path == "" {
		return nil
	}
	k, err := Load(s.path)
	if err != nil {
		return err
	}
	s.publish(k)
	return nil
}

func (s *Store) publish(k *Knowledge) {
	for _, w := range k.Warnings() {
		slog.Warn("Knowledge pack data gap", "detail", w)
	}
	s.current.Store(k)
	slog.Info("Knowledge pack loaded",
		"version", k.Version(),
		"diseases", len(k.diseases),
		"tests", len(k.tests),
		"symptoms", len(k.symptoms))
}
