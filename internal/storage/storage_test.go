package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"

	"pushd/internal/push"
	logx "pushd/pkg/logx"
)

var drivers = []struct {
	name string
	file string
}{
	{name: "sqlite", file: "tokens.db"},
	{name: "file", file: "tokens.jsonl"},
}

func openTestStore(t *testing.T, driver, path string) Store {
	t.Helper()
	st, err := Open(Config{Driver: driver, Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("Open(%s): %v", driver, err)
	}
	return st
}

func TestRegisterIsIdempotent(t *testing.T) {
	t.Parallel()
	for _, d := range drivers {
		d := d
		t.Run(d.name, func(t *testing.T) {
			t.Parallel()
			st := openTestStore(t, d.name, filepath.Join(t.TempDir(), d.file))
			t.Cleanup(func() { _ = st.Close() })
			ctx := context.Background()

			created, err := st.Register(ctx, "abc")
			if err != nil || !created {
				t.Fatalf("first Register = (%v, %v), want (true, nil)", created, err)
			}
			created, err = st.Register(ctx, " abc ")
			if err != nil {
				t.Fatalf("second Register error: %v", err)
			}
			if created {
				t.Fatal("second Register reported created")
			}
			got, err := st.Recipients(ctx)
			if err != nil {
				t.Fatalf("Recipients: %v", err)
			}
			if len(got) != 1 || got[0] != "abc" {
				t.Fatalf("Recipients = %v, want [abc]", got)
			}
		})
	}
}

func TestRegisterRejectsEmpty(t *testing.T) {
	t.Parallel()
	for _, d := range drivers {
		d := d
		t.Run(d.name, func(t *testing.T) {
			t.Parallel()
			st := openTestStore(t, d.name, filepath.Join(t.TempDir(), d.file))
			t.Cleanup(func() { _ = st.Close() })

			_, err := st.Register(context.Background(), "  ")
			if !errors.Is(err, push.ErrInvalidInput) {
				t.Fatalf("Register(blank) = %v, want ErrInvalidInput", err)
			}
			n, _ := st.Count(context.Background())
			if n != 0 {
				t.Fatalf("Count = %d, want 0", n)
			}
		})
	}
}

func TestConcurrentRegisterKeepsEveryToken(t *testing.T) {
	t.Parallel()
	const n = 64
	for _, d := range drivers {
		d := d
		t.Run(d.name, func(t *testing.T) {
			t.Parallel()
			st := openTestStore(t, d.name, filepath.Join(t.TempDir(), d.file))
			t.Cleanup(func() { _ = st.Close() })
			ctx := context.Background()

			var wg sync.WaitGroup
			errs := make(chan error, 2*n)
			for i := 0; i < n; i++ {
				tok := fmt.Sprintf("tok-%03d", i)
				// Each token twice, concurrently.
				for j := 0; j < 2; j++ {
					wg.Add(1)
					go func() {
						defer wg.Done()
						if _, err := st.Register(ctx, tok); err != nil {
							errs <- err
						}
					}()
				}
			}
			wg.Wait()
			close(errs)
			for err := range errs {
				t.Fatalf("Register: %v", err)
			}

			got, err := st.Recipients(ctx)
			if err != nil {
				t.Fatalf("Recipients: %v", err)
			}
			if len(got) != n {
				t.Fatalf("len(Recipients) = %d, want %d", len(got), n)
			}
			sort.Strings(got)
			for i, tok := range got {
				if want := fmt.Sprintf("tok-%03d", i); tok != want {
					t.Fatalf("Recipients[%d] = %q, want %q", i, tok, want)
				}
			}
		})
	}
}

func TestRecipientsSurviveReopen(t *testing.T) {
	t.Parallel()
	for _, d := range drivers {
		d := d
		t.Run(d.name, func(t *testing.T) {
			t.Parallel()
			path := filepath.Join(t.TempDir(), d.file)
			ctx := context.Background()

			st := openTestStore(t, d.name, path)
			for _, tok := range []string{"a", "b", "a", "c"} {
				if _, err := st.Register(ctx, tok); err != nil {
					t.Fatalf("Register(%s): %v", tok, err)
				}
			}
			if err := st.Close(); err != nil {
				t.Fatalf("Close: %v", err)
			}

			st = openTestStore(t, d.name, path)
			t.Cleanup(func() { _ = st.Close() })
			n, err := st.Count(ctx)
			if err != nil {
				t.Fatalf("Count: %v", err)
			}
			if n != 3 {
				t.Fatalf("Count after reopen = %d, want 3", n)
			}
			created, err := st.Register(ctx, "b")
			if err != nil || created {
				t.Fatalf("Register(b) after reopen = (%v, %v), want (false, nil)", created, err)
			}
		})
	}
}

func TestFileStoreCompactsAndReplays(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "tokens.jsonl")
	ctx := context.Background()

	st := openTestStore(t, "file", path)
	fs := st.(*fileStore)
	for i := 0; i < fileCompactEvery+5; i++ {
		if _, err := st.Register(ctx, fmt.Sprintf("t%d", i)); err != nil {
			t.Fatalf("Register: %v", err)
		}
	}
	fs.mu.Lock()
	fs.journal.Close()
	fs.journal = nil
	fs.mu.Unlock()

	// Reopen without the final compaction: snapshot + journal tail.
	st = openTestStore(t, "file", path)
	t.Cleanup(func() { _ = st.Close() })
	n, _ := st.Count(ctx)
	if n != fileCompactEvery+5 {
		t.Fatalf("Count = %d, want %d", n, fileCompactEvery+5)
	}
}

func TestFileStoreRecoversFromTornAppend(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "tokens.jsonl")
	journal := filepath.Join(dir, "tokens.recipients.journal.jsonl")
	seed := `{"token":"a","created_at":"2026-01-02T03:04:05Z"}` + "\n" + `{"token":"tor`
	if err := os.WriteFile(journal, []byte(seed), 0o600); err != nil {
		t.Fatalf("seed journal: %v", err)
	}
	ctx := context.Background()

	st := openTestStore(t, "file", path)
	created, err := st.Register(ctx, "acked")
	if err != nil || !created {
		t.Fatalf("Register = (%v, %v), want (true, nil)", created, err)
	}
	// Crash: drop the handle without the compaction Close would do.
	fs := st.(*fileStore)
	fs.mu.Lock()
	fs.journal.Close()
	fs.journal = nil
	fs.mu.Unlock()

	st = openTestStore(t, "file", path)
	t.Cleanup(func() { _ = st.Close() })
	got, err := st.Recipients(ctx)
	if err != nil {
		t.Fatalf("Recipients: %v", err)
	}
	sort.Strings(got)
	if len(got) != 2 || got[0] != "a" || got[1] != "acked" {
		t.Fatalf("Recipients after reopen = %v, want [a acked]", got)
	}
}

func TestFileStoreClosed(t *testing.T) {
	t.Parallel()
	st := openTestStore(t, "file", filepath.Join(t.TempDir(), "tokens.jsonl"))
	if err := st.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	_, err := st.Register(context.Background(), "late")
	if !errors.Is(err, push.ErrStore) || !errors.Is(err, ErrClosed) {
		t.Fatalf("Register after Close = %v, want ErrStore wrapping ErrClosed", err)
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	t.Parallel()
	if _, err := Open(Config{Driver: "mongo", Path: "x"}, logx.Nop()); err == nil {
		t.Fatal("expected error for unknown driver")
	}
}
