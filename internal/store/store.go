package store

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"youth-mis/internal/apperr"
	"youth-mis/internal/fsutil"
	"youth-mis/internal/logger"
	"youth-mis/internal/model"
)

var ErrNotFound = apperr.New(apperr.KindNotFound, "store", "row not found")

// Tables is the generic row store behind the table API. Implementations
// assign ids and created_at/updated_at stamps; they do not apply any policy.
type Tables interface {
	Select(ctx context.Context, q model.Query) ([]model.Row, error)
	Get(ctx context.Context, table, id string) (model.Row, error)
	Insert(ctx context.Context, table string, row model.Row) (model.Row, error)
	Update(ctx context.Context, table, id string, patch model.Row) (model.Row, error)
	Delete(ctx context.Context, table, id string) (model.Row, error)
	Close() error
}

// Memory keeps rows in process and, when StateFile is set, snapshots them to
// disk after every write.
type Memory struct {
	mu   sync.RWMutex
	rows map[string]map[string]model.Row

	stateFile string
	persistMu sync.Mutex
	now       func() time.Time
	log       *logger.Logger
}

type Options struct {
	StateFile string
	Now       func() time.Time
	Logger    *logger.Logger
}

var _ Tables = (*Memory)(nil)

func NewMemory() *Memory {
	return NewMemoryWithOptions(Options{})
}

func NewMemoryWithOptions(opts Options) *Memory {
	s := &Memory{
		rows:      make(map[string]map[string]model.Row),
		stateFile: opts.StateFile,
		now:       opts.Now,
		log:       opts.Logger,
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.log == nil {
		s.log = logger.Discard()
	}

	if s.stateFile != "" {
		if err := s.loadFromFile(s.stateFile); err != nil {
			s.log.Error("row persistence: load failed", "file", s.stateFile, "error", err)
		}
	}
	return s
}

type persistedState struct {
	Version int                    `json:"version"`
	Tables  map[string][]model.Row `json:"tables"`
	SavedAt int64                  `json:"savedAt"`
}

func (s *Memory) loadFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if len(data) == 0 {
		return nil
	}

	var file persistedState
	if err := json.Unmarshal(data, &file); err != nil {
		return err
	}
	if file.Version != 1 {
		return errors.New("unsupported state version")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for table, rows := range file.Tables {
		for _, r := range rows {
			if r.ID() == "" {
				continue
			}
			s.tableLocked(table)[r.ID()] = r
		}
	}
	return nil
}

func (s *Memory) snapshotLocked() map[string][]model.Row {
	out := make(map[string][]model.Row, len(s.rows))
	for table, rows := range s.rows {
		list := make([]model.Row, 0, len(rows))
		for _, r := range rows {
			list = append(list, cloneRow(r))
		}
		sort.Slice(list, func(i, j int) bool { return list[i].ID() < list[j].ID() })
		out[table] = list
	}
	return out
}

func (s *Memory) persistSnapshot(tables map[string][]model.Row) {
	if s.stateFile == "" {
		return
	}

	s.persistMu.Lock()
	defer s.persistMu.Unlock()

	file := persistedState{Version: 1, Tables: tables, SavedAt: s.now().UnixMilli()}
	data, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		s.log.Error("row persistence: marshal failed", "error", err)
		return
	}
	data = append(data, '\n')
	if err := fsutil.WriteFileAtomic(s.stateFile, data, 0o600); err != nil {
		s.log.Error("row persistence: write failed", "file", s.stateFile, "error", err)
	}
}

// unlockAndPersist releases the write lock and writes the snapshot taken
// under it, so disk I/O never holds up readers.
func (s *Memory) unlockAndPersist() {
	var snapshot map[string][]model.Row
	if s.stateFile != "" {
		snapshot = s.snapshotLocked()
	}
	s.mu.Unlock()
	if snapshot != nil {
		s.persistSnapshot(snapshot)
	}
}

func (s *Memory) tableLocked(table string) map[string]model.Row {
	t := s.rows[table]
	if t == nil {
		t = make(map[string]model.Row)
		s.rows[table] = t
	}
	return t
}

func (s *Memory) Select(_ context.Context, q model.Query) ([]model.Row, error) {
	s.mu.RLock()
	rows := make([]model.Row, 0, len(s.rows[q.Table]))
	for _, r := range s.rows[q.Table] {
		if matchesEq(r, q.Eq) {
			rows = append(rows, cloneRow(r))
		}
	}
	s.mu.RUnlock()

	sortRows(rows, q.Order, q.Desc)
	return page(rows, q.Offset, q.Limit), nil
}

func (s *Memory) Get(_ context.Context, table, id string) (model.Row, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.rows[table][id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneRow(r), nil
}

func (s *Memory) Insert(_ context.Context, table string, row model.Row) (model.Row, error) {
	if table == "" {
		return nil, errors.New("missing table")
	}
	r := cloneRow(row)
	id := r.ID()
	if id == "" {
		id = uuid.NewString()
		r["id"] = id
	}
	now := s.now().UnixMilli()

	s.mu.Lock()
	t := s.tableLocked(table)
	if _, exists := t[id]; exists {
		s.mu.Unlock()
		return nil, apperr.New(apperr.KindConflict, "store.insert", "duplicate id")
	}
	r["created_at"] = now
	r["updated_at"] = now
	t[id] = r
	out := cloneRow(r)
	s.unlockAndPersist()
	return out, nil
}

func (s *Memory) Update(_ context.Context, table, id string, patch model.Row) (model.Row, error) {
	s.mu.Lock()
	r, ok := s.rows[table][id]
	if !ok {
		s.mu.Unlock()
		return nil, ErrNotFound
	}
	for k, v := range patch {
		if k == "id" || k == "created_at" {
			continue
		}
		r[k] = v
	}
	r["updated_at"] = s.now().UnixMilli()
	out := cloneRow(r)
	s.unlockAndPersist()
	return out, nil
}

func (s *Memory) Delete(_ context.Context, table, id string) (model.Row, error) {
	s.mu.Lock()
	r, ok := s.rows[table][id]
	if !ok {
		s.mu.Unlock()
		return nil, ErrNotFound
	}
	delete(s.rows[table], id)
	s.unlockAndPersist()
	return r, nil
}

func (s *Memory) Close() error { return nil }
