package repository

import (
	"context"
	"errors"
	"testing"

	"github.com/bigkaa/goartstore/hash-index/internal/domain/model"
)

// memAttributeStore — in-memory AttributeStore для unit-тестов.
type memAttributeStore struct {
	values map[string]map[string]string // entity → key → value
}

func newMemAttributeStore() *memAttributeStore {
	return &memAttributeStore{values: make(map[string]map[string]string)}
}

func (m *memAttributeStore) GetAttribute(_ context.Context, entityID, key string) (string, error) {
	v, ok := m.values[entityID][key]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

func (m *memAttributeStore) SetAttribute(_ context.Context, entityID, key, value string) error {
	if m.values[entityID] == nil {
		m.values[entityID] = make(map[string]string)
	}
	m.values[entityID][key] = value
	return nil
}

func (m *memAttributeStore) FindEntities(_ context.Context, key, value string, _, _ int) ([]string, int, error) {
	var ids []string
	for id, attrs := range m.values {
		if attrs[key] == value {
			ids = append(ids, id)
		}
	}
	return ids, len(ids), nil
}

// TestDigestStore_SetGet проверяет запись в lowercase hex под ключом sha1_hash.
func TestDigestStore_SetGet(t *testing.T) {
	attrs := newMemAttributeStore()
	store := NewDigestStore(attrs)
	ctx := context.Background()

	d := model.SumBytes([]byte("hello"))
	if err := store.SetDigest(ctx, "file-1", d); err != nil {
		t.Fatalf("SetDigest ошибка: %v", err)
	}

	raw := attrs.values["file-1"][DigestKey]
	if raw != "aaf4c61ddcc5e8a2dabede0f3b482cd9aea9434d" {
		t.Errorf("sha1_hash = %q, ожидался lowercase hex", raw)
	}

	got, err := store.GetDigest(ctx, "file-1")
	if err != nil {
		t.Fatalf("GetDigest ошибка: %v", err)
	}
	if got != d {
		t.Errorf("GetDigest = %s, ожидался %s", got, d)
	}
}

// TestDigestStore_GetAbsent проверяет ErrNotFound для файла без дайджеста.
func TestDigestStore_GetAbsent(t *testing.T) {
	store := NewDigestStore(newMemAttributeStore())

	_, err := store.GetDigest(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("ошибка = %v, ожидалась ErrNotFound", err)
	}
}

// TestDigestStore_GetCorrupted проверяет обработку невалидного значения атрибута.
func TestDigestStore_GetCorrupted(t *testing.T) {
	attrs := newMemAttributeStore()
	_ = attrs.SetAttribute(context.Background(), "file-1", DigestKey, "not-a-digest")
	store := NewDigestStore(attrs)

	_, err := store.GetDigest(context.Background(), "file-1")
	if err == nil {
		t.Fatal("ожидалась ошибка для повреждённого значения")
	}
	if errors.Is(err, ErrNotFound) {
		t.Error("повреждённое значение не должно трактоваться как отсутствующее")
	}
	if !errors.Is(err, model.ErrInvalidDigest) {
		t.Errorf("ошибка = %v, ожидалась ErrInvalidDigest", err)
	}
}

// TestDigestStore_FindByDigest проверяет точный поиск.
func TestDigestStore_FindByDigest(t *testing.T) {
	attrs := newMemAttributeStore()
	store := NewDigestStore(attrs)
	ctx := context.Background()

	hello := model.SumBytes([]byte("hello"))
	world := model.SumBytes([]byte("world"))
	_ = store.SetDigest(ctx, "a", hello)
	_ = store.SetDigest(ctx, "b", world)
	_ = store.SetDigest(ctx, "c", hello)
	// Посторонний атрибут с тем же значением не должен попадать в результат
	_ = attrs.SetAttribute(ctx, "d", "other_key", hello.Hex())

	ids, total, err := store.FindByDigest(ctx, hello, 100, 0)
	if err != nil {
		t.Fatalf("FindByDigest ошибка: %v", err)
	}
	if total != 2 || len(ids) != 2 {
		t.Fatalf("FindByDigest вернул %v (total=%d), ожидалось 2 файла", ids, total)
	}
	for _, id := range ids {
		if id != "a" && id != "c" {
			t.Errorf("неожиданный file_id %q", id)
		}
	}
}
