// hashindex.go — вычисление, хранение и поиск SHA-1 дайджестов содержимого файлов.
// Координирует реестр файлов, хранилище атрибутов, источник содержимого,
// LRU-кэш и Prometheus-метрики.
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/goartstore/hash-index/internal/domain/model"
	"github.com/bigkaa/goartstore/hash-index/internal/events"
	"github.com/bigkaa/goartstore/hash-index/internal/repository"
)

// Ошибки сервисного слоя.
var (
	// ErrNotFound — файл не найден в реестре.
	ErrNotFound = errors.New("файл не найден")
)

// Prometheus-метрики вычисления и поиска.
var (
	computationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hi_digest_computations_total",
		Help: "Общее количество операций ComputeAndStore (по исходу).",
	}, []string{"status"})

	computeDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "hi_digest_compute_duration_seconds",
		Help:    "Длительность чтения содержимого и вычисления дайджеста.",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 300},
	})

	hashedBytesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hi_digest_bytes_total",
		Help: "Общее количество прочитанных байт при вычислении дайджестов.",
	})

	lookupsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hi_lookups_total",
		Help: "Общее количество запросов поиска по дайджесту.",
	})

	lookupDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "hi_lookup_duration_seconds",
		Help:    "Длительность поиска по дайджесту.",
		Buckets: prometheus.DefBuckets,
	})

	eventsHandledTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hi_events_handled_total",
		Help: "Количество обработанных событий (по типу и результату).",
	}, []string{"type", "result"})
)

// FileStore — источник содержимого файлов (локальный диск или Storage Element).
type FileStore interface {
	// AttachedFile возвращает ссылку на содержимое файла (путь или file_id).
	AttachedFile(ctx context.Context, record *model.FileRecord) (string, error)
	// FileExists проверяет доступность содержимого по ссылке.
	FileExists(ctx context.Context, path string) bool
	// Open открывает содержимое для чтения.
	Open(ctx context.Context, path string) (io.ReadCloser, error)
}

// LookupResult — результат поиска файлов по дайджесту с пагинацией.
type LookupResult struct {
	// Digest — нормализованный искомый дайджест
	Digest model.Digest
	// FileIDs — найденные файлы
	FileIDs []string
	// Total — общее количество совпадений
	Total int
	// Limit — запрошенный лимит
	Limit int
	// Offset — текущее смещение
	Offset int
	// HasMore — есть ли ещё результаты
	HasMore bool
}

// DigestNotifier сообщает остальным экземплярам Hash Index о записи
// нового дайджеста, чтобы они удалили его из локального кэша.
type DigestNotifier interface {
	DigestChanged(ctx context.Context, fileID string)
}

// HashIndex — сервис дайджестов содержимого файлов.
// Вычисления для одного file_id сериализуются, для разных выполняются параллельно.
type HashIndex struct {
	fileRepo    repository.FileRepository
	digests     repository.DigestStore
	files       FileStore
	cache       *CacheService
	notifier    DigestNotifier
	locks       *keyedMutex
	hashTimeout time.Duration
	logger      *slog.Logger
}

// NewHashIndex создаёт сервис и подписывает его на события source (nil — без подписки).
// cache может быть nil: тогда каждое чтение идёт в хранилище.
// hashTimeout ограничивает чтение содержимого одного файла.
func NewHashIndex(
	fileRepo repository.FileRepository,
	digests repository.DigestStore,
	files FileStore,
	cache *CacheService,
	source events.Source,
	hashTimeout time.Duration,
	logger *slog.Logger,
) *HashIndex {
	s := &HashIndex{
		fileRepo:    fileRepo,
		digests:     digests,
		files:       files,
		cache:       cache,
		locks:       newKeyedMutex(),
		hashTimeout: hashTimeout,
		logger:      logger.With(slog.String("component", "hash_index")),
	}
	if source != nil {
		source.Subscribe(s.HandleEvent)
	}
	return s
}

// SetDigestNotifier задаёт рассылку изменений дайджестов между экземплярами.
// Вызывается до начала обработки запросов и событий.
func (s *HashIndex) SetDigestNotifier(n DigestNotifier) {
	s.notifier = n
}

// EvictDigest удаляет дайджест файла из локального кэша.
func (s *HashIndex) EvictDigest(fileID string) {
	s.cache.Delete(fileID)
}

// ComputeAndStore вычисляет и сохраняет дайджест файла.
//
// force=false и дайджест уже есть — файл не читается (ComputeStatusCached).
// Недоступное содержимое не является ошибкой: возвращается
// ComputeStatusNotAccessible, сохранённый дайджест не меняется.
// Неизвестный fileID — ErrNotFound.
func (s *HashIndex) ComputeAndStore(ctx context.Context, fileID string, force bool) (*model.ComputeResult, error) {
	unlock := s.locks.Lock(fileID)
	defer unlock()

	record, err := s.fileRepo.GetByID(ctx, fileID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, fileID)
		}
		return nil, fmt.Errorf("получение файла %s: %w", fileID, err)
	}

	if !force {
		existing, getErr := s.digests.GetDigest(ctx, fileID)
		switch {
		case getErr == nil:
			computationsTotal.WithLabelValues(string(model.ComputeStatusCached)).Inc()
			s.cache.Set(fileID, existing)
			return &model.ComputeResult{Status: model.ComputeStatusCached, Digest: &existing}, nil
		case errors.Is(getErr, model.ErrInvalidDigest):
			s.logger.Warn("Повреждённый дайджест будет пересчитан",
				slog.String("file_id", fileID),
				slog.String("error", getErr.Error()),
			)
		case !errors.Is(getErr, repository.ErrNotFound):
			return nil, fmt.Errorf("чтение дайджеста %s: %w", fileID, getErr)
		}
	}

	digest, err := s.hashRecord(ctx, record)
	if err != nil {
		// Отмена вызывающего контекста прерывает операцию, а не маскируется
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return s.notAccessible(ctx, fileID, err), nil
	}

	if err := s.digests.SetDigest(ctx, fileID, digest); err != nil {
		computationsTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("запись дайджеста %s: %w", fileID, err)
	}
	s.cache.Set(fileID, digest)
	if s.notifier != nil {
		s.notifier.DigestChanged(ctx, fileID)
	}

	computationsTotal.WithLabelValues(string(model.ComputeStatusComputed)).Inc()
	s.logger.Debug("Дайджест вычислен",
		slog.String("file_id", fileID),
		slog.String("sha1", digest.Hex()),
		slog.Bool("force", force),
	)

	return &model.ComputeResult{Status: model.ComputeStatusComputed, Digest: &digest}, nil
}

// GetDigest возвращает сохранённый дайджест файла без вычисления.
// nil — дайджест отсутствует. Неизвестный или удалённый fileID — ErrNotFound.
// Реестр проверяется до кэша, поэтому удалённый файл не отдаётся из кэша.
func (s *HashIndex) GetDigest(ctx context.Context, fileID string) (*model.Digest, error) {
	if _, err := s.fileRepo.GetByID(ctx, fileID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			s.cache.Delete(fileID)
			return nil, fmt.Errorf("%w: %s", ErrNotFound, fileID)
		}
		return nil, fmt.Errorf("получение файла %s: %w", fileID, err)
	}

	if d, ok := s.cache.Get(fileID); ok {
		return &d, nil
	}

	d, err := s.digests.GetDigest(ctx, fileID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("чтение дайджеста %s: %w", fileID, err)
	}

	s.cache.Set(fileID, d)
	return &d, nil
}

// FindByDigest возвращает файлы с точно совпадающим дайджестом.
// Пустой результат — совпадений нет.
func (s *HashIndex) FindByDigest(ctx context.Context, digest model.Digest, limit, offset int) (*LookupResult, error) {
	start := time.Now()
	lookupsTotal.Inc()

	ids, total, err := s.digests.FindByDigest(ctx, digest, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("поиск по дайджесту: %w", err)
	}
	if ids == nil {
		ids = []string{}
	}

	duration := time.Since(start)
	lookupDuration.Observe(duration.Seconds())

	s.logger.Debug("Поиск по дайджесту выполнен",
		slog.String("sha1", digest.Hex()),
		slog.Int("total", total),
		slog.Int("returned", len(ids)),
		slog.Duration("duration", duration),
	)

	return &LookupResult{
		Digest:  digest,
		FileIDs: ids,
		Total:   total,
		Limit:   limit,
		Offset:  offset,
		HasMore: offset+len(ids) < total,
	}, nil
}

// Recalculate принудительно пересчитывает дайджест и возвращает текущее значение.
// При недоступном содержимом Digest в результате — ранее сохранённое значение или nil.
func (s *HashIndex) Recalculate(ctx context.Context, fileID string) (*model.ComputeResult, error) {
	res, err := s.ComputeAndStore(ctx, fileID, true)
	if err != nil {
		return nil, err
	}

	digest, err := s.GetDigest(ctx, fileID)
	if err != nil {
		return nil, err
	}
	res.Digest = digest
	return res, nil
}

// ResolveStoragePath возвращает file_id активного файла по пути
// относительно корня хранилища. Неизвестный путь — ErrNotFound
// и events.ErrUnknownPath.
func (s *HashIndex) ResolveStoragePath(ctx context.Context, storagePath string) (string, error) {
	record, err := s.fileRepo.GetByStoragePath(ctx, storagePath)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return "", fmt.Errorf("%w: %w: %s", ErrNotFound, events.ErrUnknownPath, storagePath)
		}
		return "", fmt.Errorf("поиск файла по пути %s: %w", storagePath, err)
	}
	return record.FileID, nil
}

// HandleEvent — подписчик шины событий.
// upload_complete доверяет существующему дайджесту, file_updated пересчитывает его.
// Ошибки логируются и не прерывают вызывающий процесс.
func (s *HashIndex) HandleEvent(ctx context.Context, e events.Event) {
	force := e.Type == events.TypeFileUpdated

	res, err := s.ComputeAndStore(ctx, e.FileID, force)
	if err != nil {
		result := "error"
		if errors.Is(err, ErrNotFound) {
			result = "not_found"
		}
		eventsHandledTotal.WithLabelValues(string(e.Type), result).Inc()
		s.logger.Warn("Событие не обработано",
			slog.String("type", string(e.Type)),
			slog.String("file_id", e.FileID),
			slog.String("error", err.Error()),
		)
		return
	}

	eventsHandledTotal.WithLabelValues(string(e.Type), string(res.Status)).Inc()
	s.logger.Info("Событие обработано",
		slog.String("type", string(e.Type)),
		slog.String("file_id", e.FileID),
		slog.String("status", string(res.Status)),
	)
}

// hashRecord читает содержимое файла целиком и вычисляет дайджест.
func (s *HashIndex) hashRecord(ctx context.Context, record *model.FileRecord) (model.Digest, error) {
	start := time.Now()

	hashCtx, cancel := context.WithTimeout(ctx, s.hashTimeout)
	defer cancel()

	path, err := s.files.AttachedFile(hashCtx, record)
	if err != nil {
		return model.Digest{}, err
	}
	if !s.files.FileExists(hashCtx, path) {
		return model.Digest{}, fmt.Errorf("содержимое %s отсутствует", path)
	}

	rc, err := s.files.Open(hashCtx, path)
	if err != nil {
		return model.Digest{}, err
	}
	defer rc.Close()

	h := model.NewHasher()
	n, err := io.Copy(h, &ctxReader{ctx: hashCtx, r: rc})
	if err != nil {
		return model.Digest{}, fmt.Errorf("чтение %s: %w", path, err)
	}

	hashedBytesTotal.Add(float64(n))
	computeDuration.Observe(time.Since(start).Seconds())
	return model.DigestFromHash(h), nil
}

// notAccessible фиксирует недоступность содержимого и возвращает текущий дайджест.
func (s *HashIndex) notAccessible(ctx context.Context, fileID string, cause error) *model.ComputeResult {
	computationsTotal.WithLabelValues(string(model.ComputeStatusNotAccessible)).Inc()
	s.logger.Warn("Содержимое файла недоступно, дайджест не изменён",
		slog.String("file_id", fileID),
		slog.String("error", cause.Error()),
	)

	res := &model.ComputeResult{Status: model.ComputeStatusNotAccessible}
	if d, err := s.digests.GetDigest(ctx, fileID); err == nil {
		res.Digest = &d
	}
	return res
}

// ctxReader прерывает чтение при отмене контекста.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
