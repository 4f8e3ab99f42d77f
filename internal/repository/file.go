package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/goartstore/hash-index/internal/domain/model"
)

// fileColumns — столбцы file_registry, которые нужны Hash Index.
const fileColumns = `file_id::text, storage_path, status, updated_at`

// FileRepository — доступ к реестру файлов (только чтение).
type FileRepository interface {
	// GetByID возвращает активный файл по UUID или ErrNotFound.
	GetByID(ctx context.Context, fileID string) (*model.FileRecord, error)
	// GetByStoragePath возвращает активный файл по пути относительно
	// корня хранилища или ErrNotFound.
	GetByStoragePath(ctx context.Context, storagePath string) (*model.FileRecord, error)
	// ListIDs возвращает до limit идентификаторов активных файлов,
	// строго больших afterID, в порядке возрастания (keyset-пагинация).
	// afterID = "" — с начала.
	ListIDs(ctx context.Context, afterID string, limit int) ([]string, error)
}

// fileRepo — реализация FileRepository через pgx.
type fileRepo struct {
	db DBTX
}

// NewFileRepository создаёт репозиторий файлов.
func NewFileRepository(db DBTX) FileRepository {
	return &fileRepo{db: db}
}

// GetByID возвращает файл по UUID. Удалённые файлы считаются отсутствующими.
func (r *fileRepo) GetByID(ctx context.Context, fileID string) (*model.FileRecord, error) {
	query := fmt.Sprintf(`SELECT %s FROM file_registry WHERE file_id = $1 AND status != $2`, fileColumns)

	f := &model.FileRecord{}
	err := r.db.QueryRow(ctx, query, fileID, model.FileStatusDeleted).Scan(
		&f.FileID, &f.StoragePath, &f.Status, &f.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения файла: %w", err)
	}
	return f, nil
}

// GetByStoragePath возвращает файл по storage_path.
// При нескольких записях с одним путём возвращается последняя обновлённая.
func (r *fileRepo) GetByStoragePath(ctx context.Context, storagePath string) (*model.FileRecord, error) {
	query := fmt.Sprintf(`SELECT %s FROM file_registry
		WHERE storage_path = $1 AND status != $2
		ORDER BY updated_at DESC
		LIMIT 1`, fileColumns)

	f := &model.FileRecord{}
	err := r.db.QueryRow(ctx, query, storagePath, model.FileStatusDeleted).Scan(
		&f.FileID, &f.StoragePath, &f.Status, &f.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения файла по пути: %w", err)
	}
	return f, nil
}

// ListIDs возвращает страницу идентификаторов файлов для backfill.
func (r *fileRepo) ListIDs(ctx context.Context, afterID string, limit int) ([]string, error) {
	query, args := buildListIDsQuery(afterID, limit)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения списка файлов: %w", err)
	}
	defer rows.Close()

	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("ошибка сканирования списка файлов: %w", err)
	}
	return ids, nil
}

// buildListIDsQuery строит запрос страницы идентификаторов.
// Первая страница (afterID == "") не содержит условия по file_id.
func buildListIDsQuery(afterID string, limit int) (query string, args []any) {
	if afterID == "" {
		return `SELECT file_id::text FROM file_registry
			WHERE status != $1
			ORDER BY file_id
			LIMIT $2`, []any{model.FileStatusDeleted, limit}
	}
	return `SELECT file_id::text FROM file_registry
		WHERE status != $1 AND file_id > $2
		ORDER BY file_id
		LIMIT $3`, []any{model.FileStatusDeleted, afterID, limit}
}
