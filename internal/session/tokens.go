package session

import (
	"encoding/json"
	"os"
	"sync"

	"github.com/pkg/errors"
	"youth-mis/internal/fsutil"
	"youth-mis/internal/model"
)

// TokenStore persists the session across process restarts.
type TokenStore interface {
	// Load reports false when nothing is stored.
	Load() (model.Session, bool, error)
	Save(s model.Session) error
	Clear() error
}

// FileTokenStore keeps the session in a 0600 JSON file.
type FileTokenStore struct {
	path string
}

func NewFileTokenStore(path string) *FileTokenStore {
	return &FileTokenStore{path: path}
}

func (f *FileTokenStore) Load() (model.Session, bool, error) {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return model.Session{}, false, nil
	}
	if err != nil {
		return model.Session{}, false, errors.Wrap(err, "read session file")
	}
	var s model.Session
	if err := json.Unmarshal(data, &s); err != nil {
		return model.Session{}, false, errors.Wrap(err, "decode session file")
	}
	if s.AccessToken == "" {
		return model.Session{}, false, nil
	}
	return s, true, nil
}

func (f *FileTokenStore) Save(s model.Session) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encode session")
	}
	return fsutil.WriteFileAtomic(f.path, data, 0o600)
}

func (f *FileTokenStore) Clear() error {
	if err := os.Remove(f.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return errors.Wrap(err, "remove session file")
	}
	return nil
}

type MemoryTokenStore struct {
	mu    sync.Mutex
	s     model.Session
	saved bool
}

func (m *MemoryTokenStore) Load() (model.Session, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.s, m.saved, nil
}

func (m *MemoryTokenStore) Save(s model.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.s, m.saved = s, true
	return nil
}

func (m *MemoryTokenStore) Clear() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.s, m.saved = model.Session{}, false
	return nil
}
