package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/bigkaa/goartstore/hash-index/internal/domain/model"
)

// DigestKey — ключ атрибута с SHA-1 дайджестом (lowercase hex).
const DigestKey = "sha1_hash"

// DigestStore — типизированный доступ к атрибуту sha1_hash.
type DigestStore interface {
	// GetDigest возвращает сохранённый дайджест или ErrNotFound.
	GetDigest(ctx context.Context, fileID string) (model.Digest, error)
	// SetDigest создаёт или перезаписывает дайджест файла.
	SetDigest(ctx context.Context, fileID string, digest model.Digest) error
	// FindByDigest возвращает file_id с точно совпадающим дайджестом и общее количество.
	FindByDigest(ctx context.Context, digest model.Digest, limit, offset int) ([]string, int, error)
}

// digestStore — DigestStore поверх AttributeStore.
type digestStore struct {
	attrs AttributeStore
}

// NewDigestStore создаёт типизированное хранилище дайджестов.
func NewDigestStore(attrs AttributeStore) DigestStore {
	return &digestStore{attrs: attrs}
}

// GetDigest читает и разбирает sha1_hash.
func (s *digestStore) GetDigest(ctx context.Context, fileID string) (model.Digest, error) {
	raw, err := s.attrs.GetAttribute(ctx, fileID, DigestKey)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return model.Digest{}, ErrNotFound
		}
		return model.Digest{}, err
	}

	d, err := model.ParseDigest(raw)
	if err != nil {
		return model.Digest{}, fmt.Errorf("повреждённый %s у файла %s: %w", DigestKey, fileID, err)
	}
	return d, nil
}

// SetDigest записывает дайджест в lowercase hex.
func (s *digestStore) SetDigest(ctx context.Context, fileID string, digest model.Digest) error {
	return s.attrs.SetAttribute(ctx, fileID, DigestKey, digest.Hex())
}

// FindByDigest выполняет точный поиск по lowercase hex.
func (s *digestStore) FindByDigest(ctx context.Context, digest model.Digest, limit, offset int) ([]string, int, error) {
	return s.attrs.FindEntities(ctx, DigestKey, digest.Hex(), limit, offset)
}
