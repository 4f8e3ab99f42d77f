// events.go — обработчик POST /api/v1/events (webhook событий о файлах).
// Событие обрабатывается синхронно: 202 возвращается после того,
// как все подписчики шины отработали.
package handlers

import (
	"io"
	"log/slog"
	"net/http"

	apierrors "github.com/bigkaa/goartstore/hash-index/internal/api/errors"
	"github.com/bigkaa/goartstore/hash-index/internal/api/generated"
	"github.com/bigkaa/goartstore/hash-index/internal/api/middleware"
	"github.com/bigkaa/goartstore/hash-index/internal/events"
)

// maxEventBodySize — ограничение размера тела события.
const maxEventBodySize = 64 << 10

// PostFileEvent — POST /api/v1/events.
func (h *APIHandler) PostFileEvent(w http.ResponseWriter, r *http.Request) {
	if !h.authorize(w, r, middleware.PermWrite) {
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxEventBodySize+1))
	if err != nil {
		apierrors.ValidationError(w, "Не удалось прочитать тело запроса")
		return
	}
	if len(body) > maxEventBodySize {
		events.ReceivedTotal.WithLabelValues(events.SourceWebhook, "invalid").Inc()
		apierrors.ValidationError(w, "Тело события слишком большое")
		return
	}

	e, err := events.Decode(body)
	if err != nil {
		events.ReceivedTotal.WithLabelValues(events.SourceWebhook, "invalid").Inc()
		apierrors.ValidationError(w, err.Error())
		return
	}

	events.ReceivedTotal.WithLabelValues(events.SourceWebhook, "accepted").Inc()
	h.logger.Debug("Событие получено",
		slog.String("type", string(e.Type)),
		slog.String("file_id", e.FileID),
	)
	h.publisher.Publish(r.Context(), e)

	writeJSON(w, http.StatusAccepted, generated.EventAccepted{Status: generated.Accepted})
}
