// backfill.go — вычисление дайджестов для всех существующих файлов при активации.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/sync/errgroup"

	"github.com/bigkaa/goartstore/hash-index/internal/domain/model"
)

// Режимы backfill.
const (
	// BackfillOff — backfill не выполняется.
	BackfillOff = "off"
	// BackfillMissing — вычислять только отсутствующие дайджесты (force=false).
	BackfillMissing = "missing"
	// BackfillForce — пересчитать все дайджесты (force=true).
	BackfillForce = "force"
)

// Prometheus-метрики backfill.
var (
	backfillFilesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hi_backfill_files_total",
		Help: "Количество файлов, обработанных backfill (по исходу).",
	}, []string{"status"})

	backfillRunning = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "hi_backfill_running",
		Help: "1 — backfill выполняется.",
	})
)

// BackfillOptions — параметры backfill.
type BackfillOptions struct {
	// Mode — off, missing или force
	Mode string
	// Workers — количество параллельных вычислений
	Workers int
	// PageSize — размер страницы file_registry
	PageSize int
}

// BackfillReport — итог backfill.
type BackfillReport struct {
	Mode          string
	Total         int
	Computed      int
	Cached        int
	NotAccessible int
	Failed        int
	Duration      time.Duration
}

// backfillCounters — счётчики, обновляемые воркерами.
type backfillCounters struct {
	total, computed, cached, notAccessible, failed atomic.Int64
}

// Backfill обходит реестр файлов keyset-страницами и вычисляет дайджесты
// пулом из opts.Workers воркеров. Ошибка по отдельному файлу учитывается
// в отчёте и не прерывает обход. Ошибка чтения реестра или отмена ctx
// прерывают обход; отчёт содержит уже обработанные файлы.
func (s *HashIndex) Backfill(ctx context.Context, opts BackfillOptions) (*BackfillReport, error) {
	report := &BackfillReport{Mode: opts.Mode}

	var force bool
	switch opts.Mode {
	case BackfillOff:
		return report, nil
	case BackfillMissing:
	case BackfillForce:
		force = true
	default:
		return nil, fmt.Errorf("неизвестный режим backfill %q", opts.Mode)
	}
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.PageSize < 1 {
		opts.PageSize = 500
	}

	start := time.Now()
	backfillRunning.Set(1)
	defer backfillRunning.Set(0)

	s.logger.Info("Backfill запущен",
		slog.String("mode", opts.Mode),
		slog.Int("workers", opts.Workers),
	)

	var c backfillCounters
	g := new(errgroup.Group)
	g.SetLimit(opts.Workers)

	listErr := s.walkFileIDs(ctx, opts.PageSize, func(fileID string) {
		g.Go(func() error {
			s.backfillOne(ctx, fileID, force, &c)
			return nil
		})
	})
	_ = g.Wait()

	report.Total = int(c.total.Load())
	report.Computed = int(c.computed.Load())
	report.Cached = int(c.cached.Load())
	report.NotAccessible = int(c.notAccessible.Load())
	report.Failed = int(c.failed.Load())
	report.Duration = time.Since(start)

	s.logger.Info("Backfill завершён",
		slog.String("mode", report.Mode),
		slog.Int("total", report.Total),
		slog.Int("computed", report.Computed),
		slog.Int("cached", report.Cached),
		slog.Int("not_accessible", report.NotAccessible),
		slog.Int("failed", report.Failed),
		slog.Duration("duration", report.Duration),
	)

	if listErr != nil {
		return report, listErr
	}
	return report, nil
}

// walkFileIDs вызывает fn для каждого file_id реестра в порядке возрастания.
func (s *HashIndex) walkFileIDs(ctx context.Context, pageSize int, fn func(fileID string)) error {
	after := ""
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		ids, err := s.fileRepo.ListIDs(ctx, after, pageSize)
		if err != nil {
			return fmt.Errorf("получение страницы файлов после %q: %w", after, err)
		}
		for _, id := range ids {
			if err := ctx.Err(); err != nil {
				return err
			}
			fn(id)
		}
		if len(ids) < pageSize {
			return nil
		}
		after = ids[len(ids)-1]
	}
}

// backfillOne обрабатывает один файл и обновляет счётчики.
func (s *HashIndex) backfillOne(ctx context.Context, fileID string, force bool, c *backfillCounters) {
	c.total.Add(1)

	res, err := s.ComputeAndStore(ctx, fileID, force)
	if err != nil {
		c.failed.Add(1)
		backfillFilesTotal.WithLabelValues("error").Inc()
		// Файл удалён между чтением страницы и вычислением
		if errors.Is(err, ErrNotFound) {
			s.logger.Debug("Файл исчез во время backfill", slog.String("file_id", fileID))
			return
		}
		s.logger.Warn("Ошибка backfill файла",
			slog.String("file_id", fileID),
			slog.String("error", err.Error()),
		)
		return
	}

	backfillFilesTotal.WithLabelValues(string(res.Status)).Inc()
	switch res.Status {
	case model.ComputeStatusComputed:
		c.computed.Add(1)
	case model.ComputeStatusCached:
		c.cached.Add(1)
	case model.ComputeStatusNotAccessible:
		c.notAccessible.Add(1)
	}
}
