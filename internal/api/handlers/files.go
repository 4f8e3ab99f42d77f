// files.go — обработчики операций с дайджестами:
//   - GET /api/v1/files/{file_id} — сохранённый SHA-1 файла
//   - GET /api/v1/files?sha1= — поиск файлов по точному совпадению SHA-1
//   - POST /api/v1/files/{file_id}/sha1/recalculate — принудительный пересчёт
package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	apierrors "github.com/bigkaa/goartstore/hash-index/internal/api/errors"
	"github.com/bigkaa/goartstore/hash-index/internal/api/generated"
	"github.com/bigkaa/goartstore/hash-index/internal/api/middleware"
	"github.com/bigkaa/goartstore/hash-index/internal/domain/model"
	"github.com/bigkaa/goartstore/hash-index/internal/service"
)

// GetFileDigest — GET /api/v1/files/{file_id}.
// Дайджест не вычисляется: sha1 = null, если он ещё не сохранён.
func (h *APIHandler) GetFileDigest(w http.ResponseWriter, r *http.Request, fileID generated.FileId) {
	if !h.authorize(w, r, middleware.PermRead) {
		return
	}

	digest, err := h.digests.GetDigest(r.Context(), fileID.String())
	if err != nil {
		h.writeServiceError(w, r, "Ошибка получения дайджеста", fileID.String(), err)
		return
	}

	writeJSON(w, http.StatusOK, generated.FileDigest{
		FileId: fileID,
		Sha1:   hexPtr(digest),
	})
}

// ListFiles — GET /api/v1/files?sha1=...
// Дайджест сравнивается после нормализации к нижнему регистру.
func (h *APIHandler) ListFiles(w http.ResponseWriter, r *http.Request, params generated.ListFilesParams) {
	if !h.authorize(w, r, middleware.PermRead) {
		return
	}

	digest, err := model.ParseDigest(params.Sha1)
	if err != nil {
		apierrors.ValidationError(w, "Некорректный sha1: ожидается 40 hex-символов")
		return
	}
	limit, offset := paginationDefaults(params.Limit, params.Offset)

	res, err := h.digests.FindByDigest(r.Context(), digest, limit, offset)
	if err != nil {
		h.writeServiceError(w, r, "Ошибка поиска по дайджесту", "", err)
		return
	}

	sha1 := res.Digest.Hex()
	items := make([]generated.FileDigest, 0, len(res.FileIDs))
	for _, id := range res.FileIDs {
		parsed, perr := uuid.Parse(id)
		if perr != nil {
			h.logger.Warn("Некорректный file_id в индексе",
				slog.String("file_id", id),
				slog.String("error", perr.Error()),
			)
			continue
		}
		items = append(items, generated.FileDigest{
			FileId: parsed,
			Sha1:   &sha1,
		})
	}

	writeJSON(w, http.StatusOK, generated.FileDigestList{
		Items:   items,
		Total:   res.Total,
		Limit:   res.Limit,
		Offset:  res.Offset,
		HasMore: res.HasMore,
	})
}

// RecalculateFileDigest — POST /api/v1/files/{file_id}/sha1/recalculate.
// Недоступное содержимое — 200 со status=not_accessible и прежним sha1.
func (h *APIHandler) RecalculateFileDigest(w http.ResponseWriter, r *http.Request, fileID generated.FileId) {
	if !h.authorize(w, r, middleware.PermWrite) {
		return
	}

	res, err := h.digests.Recalculate(r.Context(), fileID.String())
	if err != nil {
		h.writeServiceError(w, r, "Ошибка пересчёта дайджеста", fileID.String(), err)
		return
	}

	h.logger.Info("Дайджест пересчитан по запросу",
		slog.String("file_id", fileID.String()),
		slog.String("status", string(res.Status)),
		slog.String("subject", middleware.SubjectFromContext(r.Context())),
	)

	writeJSON(w, http.StatusOK, generated.RecalculateResult{
		FileId: fileID,
		Sha1:   hexPtr(res.Digest),
		Status: generated.RecalculateResultStatus(res.Status),
	})
}

// writeServiceError конвертирует ошибку сервисного слоя в HTTP-ответ.
// Детали ошибок хранилища логируются и не передаются клиенту.
func (h *APIHandler) writeServiceError(w http.ResponseWriter, r *http.Request, msg, fileID string, err error) {
	if errors.Is(err, service.ErrNotFound) {
		apierrors.NotFound(w, "Файл не найден")
		return
	}
	// Клиент отключился — ответ никто не прочитает
	if errors.Is(err, context.Canceled) && r.Context().Err() != nil {
		h.logger.Debug("Запрос отменён клиентом", slog.String("file_id", fileID))
		return
	}

	h.logger.Error(msg,
		slog.String("file_id", fileID),
		slog.String("error", err.Error()),
	)
	apierrors.InternalError(w, "Внутренняя ошибка сервиса дайджестов")
}
