package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	logx "relaybot/pkg/logx"
)

// fileStore keeps recipients in two files:
//   - <path>          JSON array of ids (snapshot)
//   - <path>.journal  append-only JSON Lines, one record per registration
//
// The journal is folded into the snapshot by Compact and every
// compactEvery appends.
type fileStore struct {
	log logx.Logger

	mu sync.Mutex

	snapshotPath string
	journal      *os.File

	ids    []int64
	seen   map[int64]struct{}
	writes int
}

const compactEvery = 1000

type journalRecord struct {
	ID int64 `json:"id"`
	At int64 `json:"at"` // unix milli
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	s := &fileStore{
		log:          log,
		snapshotPath: path,
		seen:         map[int64]struct{}{},
	}

	snap, err := loadSnapshot(path)
	if err != nil {
		return nil, err
	}
	for _, id := range snap {
		s.remember(id)
	}

	journalPath := path + ".journal"
	replayed, err := replayJournal(journalPath)
	if err != nil {
		return nil, err
	}
	for _, id := range replayed {
		s.remember(id)
	}

	jf, err := os.OpenFile(journalPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		return nil, err
	}
	s.journal = jf

	log.Debug("file store opened", logx.String("path", path), logx.Int("recipients", len(s.ids)), logx.Int("journal", len(replayed)))
	return s, nil
}

func (s *fileStore) remember(id int64) bool {
	if _, ok := s.seen[id]; ok {
		return false
	}
	s.seen[id] = struct{}{}
	s.ids = append(s.ids, id)
	return true
}

func (s *fileStore) LoadRecipients(ctx context.Context) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return nil, ErrClosed
	}
	return append([]int64(nil), s.ids...), nil
}

func (s *fileStore) AddRecipient(ctx context.Context, id int64, joinedAt time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return ErrClosed
	}
	if _, ok := s.seen[id]; ok {
		return nil
	}
	if joinedAt.IsZero() {
		joinedAt = time.Now()
	}

	if err := json.NewEncoder(s.journal).Encode(journalRecord{ID: id, At: joinedAt.UnixMilli()}); err != nil {
		return err
	}
	if err := s.journal.Sync(); err != nil {
		return err
	}
	s.remember(id)

	s.writes++
	if s.writes%compactEvery == 0 {
		if err := s.compactLocked(); err != nil {
			s.log.Warn("recipient compaction failed", logx.Err(err))
		}
	}
	return nil
}

// Compact rewrites the snapshot and truncates the journal.
func (s *fileStore) Compact(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return ErrClosed
	}
	return s.compactLocked()
}

func (s *fileStore) compactLocked() error {
	tmp := s.snapshotPath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	ids := s.ids
	if ids == nil {
		ids = []int64{}
	}
	if err := json.NewEncoder(f).Encode(ids); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.snapshotPath); err != nil {
		return err
	}
	if err := s.journal.Truncate(0); err != nil {
		return err
	}
	_, err = s.journal.Seek(0, io.SeekEnd)
	if err == nil {
		s.log.Debug("recipient store compacted", logx.Int("recipients", len(ids)))
	}
	return err
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return nil
	}
	err := s.journal.Close()
	s.journal = nil
	return err
}

// loadSnapshot reads the JSON array at path. A missing or empty file is an
// empty list.
func loadSnapshot(path string) ([]int64, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	if strings.TrimSpace(string(b)) == "" {
		return nil, nil
	}
	var ids []int64
	if err := json.Unmarshal(b, &ids); err != nil {
		return nil, err
	}
	return ids, nil
}

// replayJournal returns journal ids in append order. Torn or malformed lines
// (e.g. a crash mid-write) are skipped.
func replayJournal(path string) ([]int64, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	var out []int64
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var r journalRecord
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil {
			continue
		}
		out = append(out, r.ID)
	}
	return out, sc.Err()
}
