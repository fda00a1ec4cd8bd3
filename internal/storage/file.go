package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"pushd/internal/push"
	logx "pushd/pkg/logx"
)

const fileCompactEvery = 1000

// fileStore keeps recipients in memory, backed by two files:
//   - <prefix>.recipients.snapshot.json (compacted list)
//   - <prefix>.recipients.journal.jsonl (append-only, fsynced per new token)
type fileStore struct {
	log logx.Logger

	mu       sync.Mutex
	index    map[string]struct{}
	order    []Recipient
	journal  *os.File
	snapPath string
	appended int
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	dir := filepath.Dir(path)
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	prefix := filepath.Join(dir, base)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	s := &fileStore{
		log:      log,
		index:    map[string]struct{}{},
		snapPath: prefix + ".recipients.snapshot.json",
	}
	if err := s.loadSnapshot(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	journalPath := prefix + ".recipients.journal.jsonl"
	good, err := s.replayJournal(journalPath)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	jf, err := os.OpenFile(journalPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		return nil, err
	}
	if err := dropTornTail(jf, good, log); err != nil {
		_ = jf.Close()
		return nil, err
	}
	s.journal = jf
	log.Debug("file store opened", logx.String("prefix", prefix), logx.Int("recipients", len(s.order)))
	return s, nil
}

func (s *fileStore) add(r Recipient) bool {
	if r.Token == "" {
		return false
	}
	if _, ok := s.index[r.Token]; ok {
		return false
	}
	s.index[r.Token] = struct{}{}
	s.order = append(s.order, r)
	return true
}

func (s *fileStore) loadSnapshot() error {
	f, err := os.Open(s.snapPath)
	if err != nil {
		return err
	}
	defer f.Close()
	var list []Recipient
	if err := json.NewDecoder(f).Decode(&list); err != nil {
		return err
	}
	for _, r := range list {
		s.add(r)
	}
	return nil
}

// replayJournal applies journal lines on top of the snapshot and returns the
// offset just past the last newline. Bytes after it are a torn append (crash
// mid-write, never acknowledged).
func (s *fileStore) replayJournal(path string) (int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	r := bufio.NewReader(f)
	var good int64
	for {
		line, err := r.ReadBytes('\n')
		if errors.Is(err, io.EOF) {
			return good, nil
		}
		if err != nil {
			return good, err
		}
		good += int64(len(line))
		var rec Recipient
		if err := json.Unmarshal(line, &rec); err != nil {
			s.log.Warn("skipping unreadable journal line", logx.Err(err))
			continue
		}
		s.add(rec)
	}
}

// dropTornTail truncates the journal to good so the next append starts on a
// fresh line.
func dropTornTail(f *os.File, good int64, log logx.Logger) error {
	st, err := f.Stat()
	if err != nil {
		return err
	}
	if st.Size() <= good {
		return nil
	}
	log.Warn("truncating torn journal tail", logx.Int64("bytes", st.Size()-good))
	if err := f.Truncate(good); err != nil {
		return err
	}
	return f.Sync()
}

func (s *fileStore) Register(ctx context.Context, token string) (bool, error) {
	tok, err := normalizeToken(token)
	if err != nil {
		return false, err
	}
	if err := ctx.Err(); err != nil {
		return false, push.StoreError("register", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return false, push.StoreError("register", ErrClosed)
	}
	if _, ok := s.index[tok]; ok {
		return false, nil
	}

	r := Recipient{Token: tok, CreatedAt: time.Now().UTC()}
	line, err := json.Marshal(r)
	if err != nil {
		return false, push.StoreError("register", err)
	}
	if _, err := s.journal.Write(append(line, '\n')); err != nil {
		return false, push.StoreError("register", err)
	}
	if err := s.journal.Sync(); err != nil {
		return false, push.StoreError("register", err)
	}
	s.add(r)

	s.appended++
	if s.appended%fileCompactEvery == 0 {
		if err := s.compactLocked(); err != nil {
			s.log.Warn("recipient compact failed", logx.Err(err))
		}
	}
	return true, nil
}

func (s *fileStore) Recipients(ctx context.Context) ([]string, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.order))
	for _, r := range s.order {
		out = append(out, r.Token)
	}
	return out, nil
}

func (s *fileStore) Count(ctx context.Context) (int, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.order), nil
}

// compactLocked writes the full list to the snapshot (tmp + fsync + rename)
// and truncates the journal. Call with s.mu held.
func (s *fileStore) compactLocked() error {
	tmp := s.snapPath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(s.order); err != nil {
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
	if err := os.Rename(tmp, s.snapPath); err != nil {
		return err
	}
	if err := s.journal.Truncate(0); err != nil {
		return err
	}
	_, err = s.journal.Seek(0, io.SeekEnd)
	return err
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return nil
	}
	err := s.compactLocked()
	if cerr := s.journal.Close(); err == nil {
		err = cerr
	}
	s.journal = nil
	return err
}
