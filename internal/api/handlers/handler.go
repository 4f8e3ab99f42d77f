// handler.go — основной обработчик API, реализующий generated.ServerInterface.
// Объединяет health, операции с дайджестами и приём событий.
package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/bigkaa/goartstore/hash-index/internal/api/middleware"
	"github.com/bigkaa/goartstore/hash-index/internal/domain/model"
	"github.com/bigkaa/goartstore/hash-index/internal/events"
	"github.com/bigkaa/goartstore/hash-index/internal/service"
)

// DigestService — операции сервиса дайджестов, используемые API.
// Реализуется *service.HashIndex.
type DigestService interface {
	GetDigest(ctx context.Context, fileID string) (*model.Digest, error)
	FindByDigest(ctx context.Context, digest model.Digest, limit, offset int) (*service.LookupResult, error)
	Recalculate(ctx context.Context, fileID string) (*model.ComputeResult, error)
}

// APIHandler — основной обработчик API Hash Index.
type APIHandler struct {
	health      *HealthHandler
	digests     DigestService
	publisher   events.Publisher
	authEnabled bool
	logger      *slog.Logger
}

// NewAPIHandler создаёт основной обработчик API.
// authEnabled=false отключает проверку прав (JWT middleware не подключён).
func NewAPIHandler(
	health *HealthHandler,
	digests DigestService,
	publisher events.Publisher,
	authEnabled bool,
	logger *slog.Logger,
) *APIHandler {
	return &APIHandler{
		health:      health,
		digests:     digests,
		publisher:   publisher,
		authEnabled: authEnabled,
		logger:      logger.With(slog.String("component", "api_handler")),
	}
}

// --- Health endpoints (делегируются в HealthHandler) ---

// HealthLive — liveness-проверка.
func (h *APIHandler) HealthLive(w http.ResponseWriter, r *http.Request) {
	h.health.HealthLive(w, r)
}

// HealthReady — readiness-проверка.
func (h *APIHandler) HealthReady(w http.ResponseWriter, r *http.Request) {
	h.health.HealthReady(w, r)
}

// GetMetrics — Prometheus метрики.
func (h *APIHandler) GetMetrics(w http.ResponseWriter, r *http.Request) {
	h.health.GetMetrics(w, r)
}

// --- Вспомогательные функции ---

// authorize проверяет права запроса, если аутентификация включена.
func (h *APIHandler) authorize(w http.ResponseWriter, r *http.Request, need middleware.Permission) bool {
	if !h.authEnabled {
		return true
	}
	return middleware.Authorize(w, r, need)
}

// writeJSON записывает JSON-ответ с указанным статусом.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// paginationDefaults нормализует параметры пагинации.
// Возвращает корректные limit и offset.
func paginationDefaults(limit, offset *int) (limitVal, offsetVal int) {
	l := 100
	o := 0

	if limit != nil {
		l = *limit
		if l < 1 {
			l = 1
		}
		if l > 1000 {
			l = 1000
		}
	}

	if offset != nil {
		o = *offset
		if o < 0 {
			o = 0
		}
	}

	return l, o
}

// hexPtr возвращает hex-представление дайджеста или nil.
func hexPtr(d *model.Digest) *string {
	if d == nil {
		return nil
	}
	s := d.Hex()
	return &s
}
