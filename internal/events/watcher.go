package events

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ErrUnknownPath — путь не зарегистрирован в реестре файлов.
var ErrUnknownPath = errors.New("путь не зарегистрирован")

// watchedOps — операции fsnotify, после которых содержимое могло измениться.
// Переименование временного файла в итоговый приходит как Create.
const watchedOps = fsnotify.Create | fsnotify.Write

// ignoredSuffixes — временные файлы загрузки и редакторов.
var ignoredSuffixes = []string{".tmp", ".part", "~", ".swp"}

// PathResolver возвращает file_id по пути относительно корня хранилища
// (разделитель "/"). Незарегистрированный путь — ErrUnknownPath.
type PathResolver func(ctx context.Context, storagePath string) (string, error)

// DirWatcher наблюдает за деревом каталогов хранилища и публикует
// file_updated для изменённых зарегистрированных файлов. Серия событий
// одного файла объединяется в одно за окно debounce.
type DirWatcher struct {
	root     string
	resolve  PathResolver
	pub      Publisher
	debounce time.Duration
	logger   *slog.Logger
	// ready закрывается, когда дерево каталогов поставлено на наблюдение
	ready chan struct{}
}

// NewDirWatcher создаёт наблюдатель за root.
func NewDirWatcher(root string, resolve PathResolver, pub Publisher, debounce time.Duration, logger *slog.Logger) *DirWatcher {
	return &DirWatcher{
		root:     filepath.Clean(root),
		resolve:  resolve,
		pub:      pub,
		debounce: debounce,
		logger:   logger.With(slog.String("component", "dir_watcher")),
		ready:    make(chan struct{}),
	}
}

// Run наблюдает за деревом до отмены ctx. Новые подкаталоги добавляются
// в наблюдение по мере появления. Отложенные события при остановке
// отбрасываются, уже запущенные публикации дожидаются завершения.
func (w *DirWatcher) Run(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("создание fsnotify watcher: %w", err)
	}
	defer fsw.Close()

	if err := w.addTree(fsw, w.root); err != nil {
		return err
	}
	close(w.ready)
	w.logger.Info("Наблюдение за хранилищем запущено", slog.String("root", w.root))

	deb := newDebouncer(w.debounce)
	defer deb.stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Наблюдение за хранилищем остановлено")
			return nil
		case ev, ok := <-fsw.Events:
			if !ok {
				return errors.New("канал событий fsnotify закрыт")
			}
			w.handle(ctx, fsw, deb, ev)
		case werr, ok := <-fsw.Errors:
			if !ok {
				return errors.New("канал ошибок fsnotify закрыт")
			}
			w.logger.Warn("Ошибка наблюдения", slog.String("error", werr.Error()))
		}
	}
}

// addTree добавляет в наблюдение каталог и все вложенные каталоги.
func (w *DirWatcher) addTree(fsw *fsnotify.Watcher, dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return fmt.Errorf("обход %s: %w", path, err)
		}
		if !d.IsDir() {
			return nil
		}
		if err := fsw.Add(path); err != nil {
			return fmt.Errorf("наблюдение за %s: %w", path, err)
		}
		return nil
	})
}

func (w *DirWatcher) handle(ctx context.Context, fsw *fsnotify.Watcher, deb *debouncer, ev fsnotify.Event) {
	if ev.Op&watchedOps == 0 || isIgnored(ev.Name) {
		return
	}

	info, err := os.Stat(ev.Name)
	if err != nil {
		// Файл успел исчезнуть
		return
	}
	if info.IsDir() {
		if ev.Op.Has(fsnotify.Create) {
			if err := w.addTree(fsw, ev.Name); err != nil {
				w.logger.Warn("Не удалось добавить каталог в наблюдение",
					slog.String("path", ev.Name),
					slog.String("error", err.Error()),
				)
			}
		}
		return
	}
	if !info.Mode().IsRegular() {
		return
	}

	name := ev.Name
	deb.schedule(name, func() { w.emit(ctx, name) })
}

// emit публикует file_updated для файла по абсолютному пути.
func (w *DirWatcher) emit(ctx context.Context, absPath string) {
	if ctx.Err() != nil {
		return
	}

	rel, err := filepath.Rel(w.root, absPath)
	if err != nil {
		return
	}
	storagePath := filepath.ToSlash(rel)

	fileID, err := w.resolve(ctx, storagePath)
	if err != nil {
		if errors.Is(err, ErrUnknownPath) {
			w.logger.Debug("Изменён незарегистрированный файл", slog.String("path", storagePath))
			ReceivedTotal.WithLabelValues(SourceWatcher, "unknown_path").Inc()
			return
		}
		ReceivedTotal.WithLabelValues(SourceWatcher, "error").Inc()
		w.logger.Warn("Не удалось определить file_id по пути",
			slog.String("path", storagePath),
			slog.String("error", err.Error()),
		)
		return
	}

	ReceivedTotal.WithLabelValues(SourceWatcher, "accepted").Inc()
	w.logger.Debug("Изменение файла обнаружено",
		slog.String("path", storagePath),
		slog.String("file_id", fileID),
	)
	w.pub.Publish(ctx, Event{Type: TypeFileUpdated, FileID: fileID})
}

func isIgnored(path string) bool {
	base := filepath.Base(path)
	if strings.HasPrefix(base, ".") {
		return true
	}
	for _, suffix := range ignoredSuffixes {
		if strings.HasSuffix(base, suffix) {
			return true
		}
	}
	return false
}

// debouncer откладывает вызов fn по ключу; повторный schedule переносит срок.
type debouncer struct {
	duration time.Duration
	mu       sync.Mutex
	timers   map[string]*time.Timer
	stopped  bool
	wg       sync.WaitGroup
}

func newDebouncer(d time.Duration) *debouncer {
	return &debouncer{
		duration: d,
		timers:   make(map[string]*time.Timer),
	}
}

func (d *debouncer) schedule(key string, fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}
	if t, ok := d.timers[key]; ok && t.Stop() {
		d.wg.Done()
	}

	d.wg.Add(1)
	var t *time.Timer
	t = time.AfterFunc(d.duration, func() {
		defer d.wg.Done()
		d.mu.Lock()
		if d.timers[key] == t {
			delete(d.timers, key)
		}
		d.mu.Unlock()
		fn()
	})
	d.timers[key] = t
}

// stop отменяет отложенные вызовы и ждёт завершения запущенных.
func (d *debouncer) stop() {
	d.mu.Lock()
	d.stopped = true
	for key, t := range d.timers {
		if t.Stop() {
			d.wg.Done()
		}
		delete(d.timers, key)
	}
	d.mu.Unlock()
	d.wg.Wait()
}
