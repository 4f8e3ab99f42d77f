package events

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// syncPublisher — потокобезопасный Publisher для тестов наблюдателя.
type syncPublisher struct {
	mu     sync.Mutex
	events []Event
}

func (p *syncPublisher) Publish(_ context.Context, e Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
}

func (p *syncPublisher) snapshot() []Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Event(nil), p.events...)
}

// mapResolver разрешает пути по фиксированной таблице.
func mapResolver(paths map[string]string) PathResolver {
	return func(_ context.Context, storagePath string) (string, error) {
		if id, ok := paths[storagePath]; ok {
			return id, nil
		}
		return "", ErrUnknownPath
	}
}

// startWatcher запускает DirWatcher и ждёт постановки дерева на наблюдение.
func startWatcher(t *testing.T, root string, resolve PathResolver, pub Publisher) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	w := NewDirWatcher(root, resolve, pub, 50*time.Millisecond, logger)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("Run вернул ошибку: %v", err)
			}
		case <-time.After(5 * time.Second):
			t.Error("DirWatcher не остановился")
		}
	})

	select {
	case <-w.ready:
	case err := <-done:
		t.Fatalf("Run завершился до старта: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("DirWatcher не запустился")
	}
}

// waitEvents ждёт, пока publisher получит не меньше n событий.
func waitEvents(t *testing.T, pub *syncPublisher, n int) []Event {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if got := pub.snapshot(); len(got) >= n {
			return got
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("получено %d событий, ожидалось %d", len(pub.snapshot()), n)
	return nil
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile %s: %v", path, err)
	}
}

// TestDirWatcher_CoalescesWrites — серия записей одного файла даёт одно событие.
func TestDirWatcher_CoalescesWrites(t *testing.T) {
	root := t.TempDir()
	pub := &syncPublisher{}
	startWatcher(t, root, mapResolver(map[string]string{"a.bin": testFileID}), pub)

	path := filepath.Join(root, "a.bin")
	for i := 0; i < 5; i++ {
		writeFile(t, path, "v"+string(rune('0'+i)))
	}

	waitEvents(t, pub, 1)
	// Окно debounce прошло, повторных событий быть не должно
	time.Sleep(300 * time.Millisecond)
	got := pub.snapshot()

	if len(got) != 1 {
		t.Fatalf("событий = %d, ожидалось 1: %+v", len(got), got)
	}
	want := Event{Type: TypeFileUpdated, FileID: testFileID}
	if got[0] != want {
		t.Errorf("событие = %+v, ожидалось %+v", got[0], want)
	}
}

// TestDirWatcher_SkipsUnknownAndIgnored — незарегистрированные и временные
// файлы не публикуются.
func TestDirWatcher_SkipsUnknownAndIgnored(t *testing.T) {
	root := t.TempDir()
	pub := &syncPublisher{}
	startWatcher(t, root, mapResolver(map[string]string{
		".hidden":    "hidden-id",
		"upload.tmp": "tmp-id",
		"known.bin":  testFileID,
	}), pub)

	writeFile(t, filepath.Join(root, "unknown.bin"), "x")
	writeFile(t, filepath.Join(root, ".hidden"), "x")
	writeFile(t, filepath.Join(root, "upload.tmp"), "x")
	writeFile(t, filepath.Join(root, "known.bin"), "x")

	waitEvents(t, pub, 1)
	time.Sleep(300 * time.Millisecond)

	got := pub.snapshot()
	if len(got) != 1 || got[0].FileID != testFileID {
		t.Errorf("события = %+v, ожидалось одно для %s", got, testFileID)
	}
}

// TestDirWatcher_NewSubdirectory — файлы в созданном после старта
// подкаталоге тоже отслеживаются.
func TestDirWatcher_NewSubdirectory(t *testing.T) {
	root := t.TempDir()
	pub := &syncPublisher{}
	startWatcher(t, root, mapResolver(map[string]string{"2026/10/b.bin": testFileID}), pub)

	dir := filepath.Join(root, "2026", "10")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}

	// Каталог ставится на наблюдение асинхронно; повторяем запись до события
	path := filepath.Join(dir, "b.bin")
	deadline := time.Now().Add(5 * time.Second)
	for len(pub.snapshot()) == 0 && time.Now().Before(deadline) {
		writeFile(t, path, "content")
		time.Sleep(150 * time.Millisecond)
	}

	got := pub.snapshot()
	if len(got) == 0 {
		t.Fatal("событие для файла в новом подкаталоге не получено")
	}
	if got[0].FileID != testFileID || got[0].Type != TypeFileUpdated {
		t.Errorf("событие = %+v", got[0])
	}
}

func TestDirWatcher_ResolverErrorIsSkipped(t *testing.T) {
	root := t.TempDir()
	pub := &syncPublisher{}
	var calls atomic.Int32
	resolve := func(_ context.Context, _ string) (string, error) {
		calls.Add(1)
		return "", errors.New("база недоступна")
	}
	startWatcher(t, root, resolve, pub)

	writeFile(t, filepath.Join(root, "c.bin"), "x")

	deadline := time.Now().Add(5 * time.Second)
	for calls.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if calls.Load() == 0 {
		t.Fatal("resolver не вызван")
	}
	if got := pub.snapshot(); len(got) != 0 {
		t.Errorf("события = %+v, ожидалось отсутствие", got)
	}
}

func TestRun_MissingRoot(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	w := NewDirWatcher(filepath.Join(t.TempDir(), "absent"), mapResolver(nil), &syncPublisher{}, time.Millisecond, logger)
	if err := w.Run(context.Background()); err == nil {
		t.Error("ожидалась ошибка для несуществующего корня")
	}
}

func TestDebouncer(t *testing.T) {
	d := newDebouncer(30 * time.Millisecond)
	var fired atomic.Int32

	for i := 0; i < 3; i++ {
		d.schedule("k", func() { fired.Add(1) })
	}
	time.Sleep(150 * time.Millisecond)
	if n := fired.Load(); n != 1 {
		t.Errorf("вызовов = %d, ожидался 1", n)
	}

	// Отложенный вызов отменяется при stop
	d.schedule("k", func() { fired.Add(1) })
	d.stop()
	time.Sleep(80 * time.Millisecond)
	if n := fired.Load(); n != 1 {
		t.Errorf("вызовов после stop = %d, ожидался 1", n)
	}

	d.schedule("k", func() { fired.Add(1) })
	time.Sleep(80 * time.Millisecond)
	if n := fired.Load(); n != 1 {
		t.Errorf("schedule после stop выполнился: %d", n)
	}
}

func TestIsIgnored(t *testing.T) {
	tests := map[string]bool{
		"/data/a.bin":           false,
		"/data/.a.bin":          true,
		"/data/a.bin.tmp":       true,
		"/data/a.bin~":          true,
		"/data/a.bin.part":      true,
		"/data/2026/report.pdf": false,
	}
	for path, want := range tests {
		if got := isIgnored(path); got != want {
			t.Errorf("isIgnored(%q) = %v, ожидалось %v", path, got, want)
		}
	}
}
