package tailer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func line(tool string, n int) string {
	return fmt.Sprintf(`{"id":"%s-%d","tool":"%s","arguments":{"n":%d}}`, tool, n, tool, n)
}

func writeLines(t *testing.T, path string, lines ...string) {
	t.Helper()
	body := strings.Join(lines, "\n") + "\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0600))
}

func appendRaw(t *testing.T, path, raw string) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0600)
	require.NoError(t, err)
	_, err = f.WriteString(raw)
	require.NoError(t, err)
	require.NoError(t, f.Close())
}

func TestPollExactlyNew(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agent.jsonl")
	writeLines(t, path, line("read", 1), line("exec", 2))
	tl := New(nil, nil)

	first, err := tl.Poll(path)
	require.NoError(t, err)
	require.Len(t, first, 2)
	assert.Equal(t, "read", first[0].Tool)
	assert.Equal(t, "exec", first[1].Tool)
	assert.Equal(t, path, first[0].Source)

	second, err := tl.Poll(path)
	require.NoError(t, err)
	assert.Empty(t, second)
	assert.Equal(t, 2, tl.Cursor(path))

	appendRaw(t, path, line("write", 3)+"\n")
	third, err := tl.Poll(path)
	require.NoError(t, err)
	require.Len(t, third, 1)
	assert.Equal(t, "write-3", third[0].ID)
}

func TestPollMalformedLinesConsumed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agent.jsonl")
	writeLines(t, path, line("read", 1), "{broken", "", line("exec", 2))
	tl := New(nil, nil)

	recs, err := tl.Poll(path)
	require.NoError(t, err)
	assert.Len(t, recs, 2)
	assert.Equal(t, 4, tl.Cursor(path), "bad lines advance the cursor")

	again, err := tl.Poll(path)
	require.NoError(t, err)
	assert.Empty(t, again, "bad lines are never retried")
}

func TestPollRotationReset(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agent.jsonl")
	writeLines(t, path, line("read", 1), line("read", 2), line("read", 3), line("read", 4))
	tl := New(nil, nil)

	_, err := tl.Poll(path)
	require.NoError(t, err)
	require.Equal(t, 4, tl.Cursor(path))

	writeLines(t, path, line("exec", 10), line("exec", 11))
	recs, err := tl.Poll(path)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "exec-10", recs[0].ID)
	assert.Equal(t, "exec-11", recs[1].ID)
	assert.Equal(t, 2, tl.Cursor(path))

	require.NoError(t, os.WriteFile(path, nil, 0600))
	recs, err = tl.Poll(path)
	require.NoError(t, err)
	assert.Empty(t, recs)
	assert.Equal(t, 0, tl.Cursor(path))
}

func TestPollWaitsForPartialLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agent.jsonl")
	partial := line("exec", 2)
	require.NoError(t, os.WriteFile(path, []byte(line("read", 1)+"\n"+partial[:10]), 0600))
	tl := New(nil, nil)

	recs, err := tl.Poll(path)
	require.NoError(t, err)
	require.Len(t, recs, 1)

	appendRaw(t, path, partial[10:]+"\n")
	recs, err = tl.Poll(path)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "exec-2", recs[0].ID)
}

func TestPollReadErrorKeepsCursor(t *testing.T) {
	fail := false
	src := SourceFunc(func(string) ([]byte, error) {
		if fail {
			return nil, errors.New("boom")
		}
		return []byte(line("read", 1) + "\n"), nil
	})
	tl := New(src, nil)

	_, err := tl.Poll("s")
	require.NoError(t, err)
	fail = true
	_, err = tl.Poll("s")
	assert.Error(t, err)
	assert.Equal(t, 1, tl.Cursor("s"))

	_, err = New(nil, nil).Poll(filepath.Join(t.TempDir(), "missing.jsonl"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestPrimeSkipsHistory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agent.jsonl")
	writeLines(t, path, line("read", 1), line("read", 2))
	tl := New(nil, nil)

	require.NoError(t, tl.Prime(path))
	recs, err := tl.Poll(path)
	require.NoError(t, err)
	assert.Empty(t, recs)

	appendRaw(t, path, line("exec", 3)+"\n")
	recs, err = tl.Poll(path)
	require.NoError(t, err)
	assert.Len(t, recs, 1)
}

func TestForget(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agent.jsonl")
	writeLines(t, path, line("read", 1))
	tl := New(nil, nil)

	_, err := tl.Poll(path)
	require.NoError(t, err)
	assert.Equal(t, []string{path}, tl.Sources())

	tl.Forget(path)
	assert.Empty(t, tl.Sources())
	recs, err := tl.Poll(path)
	require.NoError(t, err)
	assert.Len(t, recs, 1, "forgotten sources start over")
}

func TestForgetDuringPollWins(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	var calls int
	src := SourceFunc(func(string) ([]byte, error) {
		calls++
		if calls == 1 {
			close(entered)
			<-release
		}
		return []byte(line("read", 1) + "\n" + line("read", 2) + "\n"), nil
	})
	tl := New(src, nil)

	polled := make(chan struct{})
	go func() {
		defer close(polled)
		_, _ = tl.Poll("agent.jsonl")
	}()
	<-entered

	forgotten := make(chan struct{})
	go func() {
		defer close(forgotten)
		tl.Forget("agent.jsonl")
	}()

	select {
	case <-forgotten:
		t.Fatal("Forget returned while a poll of the source was in flight")
	case <-time.After(50 * time.Millisecond):
	}
	close(release)
	<-polled
	<-forgotten

	assert.Equal(t, 0, tl.Cursor("agent.jsonl"), "stale poll must not restore the cursor")
	recs, err := tl.Poll("agent.jsonl")
	require.NoError(t, err)
	assert.Len(t, recs, 2)
}

func TestConcurrentPollsNeverDuplicate(t *testing.T) {
	dir := t.TempDir()
	paths := []string{filepath.Join(dir, "a.jsonl"), filepath.Join(dir, "b.jsonl")}
	for _, p := range paths {
		var lines []string
		for i := 0; i < 50; i++ {
			lines = append(lines, line("read", i))
		}
		writeLines(t, p, lines...)
	}
	tl := New(nil, nil)

	var mu sync.Mutex
	counts := make(map[string]int)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		for _, p := range paths {
			wg.Add(1)
			go func(p string) {
				defer wg.Done()
				recs, err := tl.Poll(p)
				if err != nil {
					t.Error(err)
					return
				}
				mu.Lock()
				counts[p] += len(recs)
				mu.Unlock()
			}(p)
		}
	}
	wg.Wait()

	for _, p := range paths {
		assert.Equal(t, 50, counts[p], p)
	}
}

func TestCompleteLines(t *testing.T) {
	assert.Nil(t, completeLines(nil))
	assert.Nil(t, completeLines([]byte("no newline")))
	assert.Len(t, completeLines([]byte("a\r\nb\n")), 2)
	assert.Equal(t, "a", string(completeLines([]byte("a\r\nb\n"))[0]))
	assert.Len(t, completeLines([]byte("a\nb")), 1)
	assert.Len(t, completeLines([]byte("\n")), 1)
}

func TestExistingAndMatchSource(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"b.jsonl", "a.jsonl", "c.jsonl.tmp", ".hidden.jsonl", "notes.txt"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), nil, 0600))
	}
	got, err := Existing(dir, "*.jsonl")
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "a.jsonl"), filepath.Join(dir, "b.jsonl")}, got)

	missing, err := Existing(filepath.Join(dir, "nope"), "*.jsonl")
	require.NoError(t, err)
	assert.Empty(t, missing)
}

func TestWatcherCoalescesWrites(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "agent.jsonl")

	var mu sync.Mutex
	calls := make(map[string]int)
	w := NewWatcher(WatcherConfig{
		Dir:      dir,
		Debounce: 100 * time.Millisecond,
		OnChange: func(p string) {
			mu.Lock()
			calls[p]++
			mu.Unlock()
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = w.Run(ctx) }()
	time.Sleep(100 * time.Millisecond)

	writeLines(t, path, line("read", 1))
	for i := 2; i < 6; i++ {
		appendRaw(t, path, line("read", i)+"\n")
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ignored.txt"), []byte("x"), 0600))

	time.Sleep(500 * time.Millisecond)
	cancel()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, calls[path])
	assert.Len(t, calls, 1)
}

func TestPollWatcherDetectsChangeAndRemoval(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "agent.jsonl")
	writeLines(t, path, line("read", 1))

	var changed, removed []string
	w := NewPollWatcher(WatcherConfig{
		Dir:      dir,
		OnChange: func(p string) { changed = append(changed, p) },
		OnRemove: func(p string) { removed = append(removed, p) },
	})

	w.scan()
	w.scan()
	assert.Equal(t, []string{path}, changed, "unchanged files are not reported twice")

	appendRaw(t, path, line("read", 2)+"\n")
	w.scan()
	assert.Len(t, changed, 2)

	require.NoError(t, os.Remove(path))
	w.scan()
	assert.Equal(t, []string{path}, removed)
}

func TestHandlerPanicRecovered(t *testing.T) {
	w := NewPollWatcher(WatcherConfig{
		Dir:      t.TempDir(),
		OnChange: func(string) { panic("boom") },
	})
	assert.NotPanics(t, func() { w.handle("x") })
}
