package imaging

import (
	"os"
	"path/filepath"
)

// Session owns the temporary workspace where a run keeps per-cycle image
// artifacts. Created once at startup, removed at shutdown.
type Session struct {
	dir string
}

func NewSession() (*Session, error) {
	dir, err := os.MkdirTemp("", "firewatch-*")
	if err != nil {
		return nil, err
	}
	return &Session{dir: dir}, nil
}

func (s *Session) Dir() string {
	return s.dir
}

func (s *Session) Path(name string) string {
	return filepath.Join(s.dir, name)
}

func (s *Session) Close() error {
	if s.dir == "" {
		return nil
	}
	return os.RemoveAll(s.dir)
}
