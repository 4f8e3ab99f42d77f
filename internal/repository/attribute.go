package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/goartstore/hash-index/internal/domain/model"
)

// AttributeStore — обобщённое key/value хранилище атрибутов файлов
// (таблица file_attributes). Напрямую используется только типизированными
// обёртками (DigestStore), чтобы исключить коллизии строковых ключей.
type AttributeStore interface {
	// GetAttribute возвращает значение атрибута или ErrNotFound.
	GetAttribute(ctx context.Context, entityID, key string) (string, error)
	// SetAttribute атомарно создаёт или перезаписывает атрибут.
	SetAttribute(ctx context.Context, entityID, key, value string) error
	// FindEntities возвращает идентификаторы файлов с точным совпадением value,
	// а также общее количество совпадений (без учёта limit/offset).
	// Файлы со статусом deleted не возвращаются.
	FindEntities(ctx context.Context, key, value string, limit, offset int) ([]string, int, error)
}

// attributeRepo — реализация AttributeStore через pgx.
type attributeRepo struct {
	db DBTX
}

// NewAttributeStore создаёт хранилище атрибутов.
func NewAttributeStore(db DBTX) AttributeStore {
	return &attributeRepo{db: db}
}

// GetAttribute возвращает значение атрибута.
func (r *attributeRepo) GetAttribute(ctx context.Context, entityID, key string) (string, error) {
	query := `SELECT value FROM file_attributes WHERE entity_id = $1 AND key = $2`

	var value string
	if err := r.db.QueryRow(ctx, query, entityID, key).Scan(&value); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("ошибка чтения атрибута %s: %w", key, err)
	}
	return value, nil
}

// SetAttribute выполняет upsert одним выражением: читатель видит
// либо старое, либо новое значение целиком.
func (r *attributeRepo) SetAttribute(ctx context.Context, entityID, key, value string) error {
	query := `
		INSERT INTO file_attributes (entity_id, key, value, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (entity_id, key)
		DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()`

	if _, err := r.db.Exec(ctx, query, entityID, key, value); err != nil {
		return fmt.Errorf("ошибка записи атрибута %s: %w", key, err)
	}
	return nil
}

// FindEntities ищет файлы по точному значению атрибута.
// Атрибуты удалённых (status = deleted) файлов не учитываются,
// как и в FileRepository.GetByID.
func (r *attributeRepo) FindEntities(ctx context.Context, key, value string, limit, offset int) ([]string, int, error) {
	query := `
		SELECT a.entity_id::text
		FROM file_attributes a
		JOIN file_registry f ON f.file_id = a.entity_id
		WHERE a.key = $1 AND a.value = $2 AND f.status != $3
		ORDER BY a.entity_id
		LIMIT $4 OFFSET $5`

	rows, err := r.db.Query(ctx, query, key, value, model.FileStatusDeleted, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("ошибка поиска по атрибуту %s: %w", key, err)
	}
	defer rows.Close()

	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, 0, fmt.Errorf("ошибка сканирования результатов поиска: %w", err)
	}

	countQuery := `
		SELECT COUNT(*)
		FROM file_attributes a
		JOIN file_registry f ON f.file_id = a.entity_id
		WHERE a.key = $1 AND a.value = $2 AND f.status != $3`

	var total int
	if err := r.db.QueryRow(ctx, countQuery, key, value, model.FileStatusDeleted).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("ошибка подсчёта результатов поиска: %w", err)
	}

	return ids, total, nil
}
