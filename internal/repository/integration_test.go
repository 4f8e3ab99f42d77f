package repository

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sort"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/bigkaa/goartstore/hash-index/internal/config"
	"github.com/bigkaa/goartstore/hash-index/internal/database"
	"github.com/bigkaa/goartstore/hash-index/internal/domain/model"
)

// setupTestDB запускает PostgreSQL контейнер и применяет миграции.
func setupTestDB(t *testing.T) *pgxpool.Pool {
	t.Helper()

	if os.Getenv("TEST_INTEGRATION") == "" {
		t.Skip("Пропуск интеграционного теста: TEST_INTEGRATION не установлена")
	}

	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"docker.io/postgres:17-alpine",
		postgres.WithDatabase("hashindex_test"),
		postgres.WithUsername("artstore"),
		postgres.WithPassword("test-password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("Не удалось запустить PostgreSQL контейнер: %v", err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("Ошибка остановки контейнера: %v", err)
		}
	})

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("Не удалось получить host контейнера: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("Не удалось получить port контейнера: %v", err)
	}

	t.Setenv("HI_DB_HOST", host)
	t.Setenv("HI_DB_PORT", port.Port())
	t.Setenv("HI_DB_NAME", "hashindex_test")
	t.Setenv("HI_DB_USER", "artstore")
	t.Setenv("HI_DB_PASSWORD", "test-password")
	t.Setenv("HI_DB_SSL_MODE", "disable")
	t.Setenv("HI_AUTH_ENABLED", "false")

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("Ошибка загрузки конфигурации: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))

	if err := database.Migrate(cfg, logger); err != nil {
		t.Fatalf("Ошибка миграций: %v", err)
	}

	pool, err := database.Connect(ctx, cfg, logger)
	if err != nil {
		t.Fatalf("Ошибка подключения: %v", err)
	}
	t.Cleanup(func() { pool.Close() })

	return pool
}

// insertFile добавляет запись в file_registry.
func insertFile(t *testing.T, pool *pgxpool.Pool, status string) string {
	t.Helper()
	id := uuid.New().String()
	_, err := pool.Exec(context.Background(),
		`INSERT INTO file_registry (file_id, storage_path, status) VALUES ($1, $2, $3)`,
		id, id+".bin", status,
	)
	if err != nil {
		t.Fatalf("Ошибка вставки file_registry: %v", err)
	}
	return id
}

func TestFileRepository_GetByIDAndListIDs(t *testing.T) {
	pool := setupTestDB(t)
	ctx := context.Background()
	repo := NewFileRepository(pool)

	var active []string
	for i := 0; i < 5; i++ {
		active = append(active, insertFile(t, pool, model.FileStatusActive))
	}
	deleted := insertFile(t, pool, model.FileStatusDeleted)
	sort.Strings(active)

	rec, err := repo.GetByID(ctx, active[0])
	if err != nil {
		t.Fatalf("GetByID() ошибка: %v", err)
	}
	if rec.StoragePath != active[0]+".bin" {
		t.Errorf("StoragePath = %q, ожидался %q", rec.StoragePath, active[0]+".bin")
	}

	if _, err := repo.GetByID(ctx, deleted); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetByID(deleted) ошибка = %v, ожидалась ErrNotFound", err)
	}
	if _, err := repo.GetByID(ctx, uuid.New().String()); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetByID(unknown) ошибка = %v, ожидалась ErrNotFound", err)
	}

	byPath, err := repo.GetByStoragePath(ctx, active[1]+".bin")
	if err != nil {
		t.Fatalf("GetByStoragePath() ошибка: %v", err)
	}
	if byPath.FileID != active[1] {
		t.Errorf("GetByStoragePath().FileID = %s, ожидался %s", byPath.FileID, active[1])
	}
	if _, err := repo.GetByStoragePath(ctx, deleted+".bin"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetByStoragePath(deleted) ошибка = %v, ожидалась ErrNotFound", err)
	}

	// Keyset-пагинация по 2 записи
	var got []string
	after := ""
	for {
		page, err := repo.ListIDs(ctx, after, 2)
		if err != nil {
			t.Fatalf("ListIDs() ошибка: %v", err)
		}
		if len(page) == 0 {
			break
		}
		got = append(got, page...)
		after = page[len(page)-1]
	}

	if len(got) != len(active) {
		t.Fatalf("ListIDs вернул %d файлов, ожидалось %d", len(got), len(active))
	}
	for i := range active {
		if got[i] != active[i] {
			t.Errorf("ListIDs[%d] = %s, ожидался %s", i, got[i], active[i])
		}
	}
}

func TestDigestStore_Postgres(t *testing.T) {
	pool := setupTestDB(t)
	ctx := context.Background()
	store := NewDigestStore(NewAttributeStore(pool))

	f1 := insertFile(t, pool, model.FileStatusActive)
	f2 := insertFile(t, pool, model.FileStatusActive)

	hello := model.SumBytes([]byte("hello"))
	world := model.SumBytes([]byte("world"))

	if _, err := store.GetDigest(ctx, f1); !errors.Is(err, ErrNotFound) {
		t.Fatalf("GetDigest до записи: ошибка = %v, ожидалась ErrNotFound", err)
	}

	if err := store.SetDigest(ctx, f1, hello); err != nil {
		t.Fatalf("SetDigest ошибка: %v", err)
	}
	if err := store.SetDigest(ctx, f2, hello); err != nil {
		t.Fatalf("SetDigest ошибка: %v", err)
	}

	ids, total, err := store.FindByDigest(ctx, hello, 10, 0)
	if err != nil {
		t.Fatalf("FindByDigest ошибка: %v", err)
	}
	if total != 2 || len(ids) != 2 {
		t.Fatalf("FindByDigest = %v (total=%d), ожидалось 2", ids, total)
	}

	// Перезапись: одна запись на файл
	if err := store.SetDigest(ctx, f1, world); err != nil {
		t.Fatalf("SetDigest (перезапись) ошибка: %v", err)
	}
	got, err := store.GetDigest(ctx, f1)
	if err != nil {
		t.Fatalf("GetDigest ошибка: %v", err)
	}
	if got != world {
		t.Errorf("GetDigest = %s, ожидался %s", got, world)
	}

	var rows int
	if err := pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM file_attributes WHERE entity_id = $1 AND key = $2`, f1, DigestKey,
	).Scan(&rows); err != nil {
		t.Fatalf("подсчёт атрибутов: %v", err)
	}
	if rows != 1 {
		t.Errorf("атрибутов sha1_hash у файла = %d, ожидался 1", rows)
	}

	ids, total, err = store.FindByDigest(ctx, hello, 10, 0)
	if err != nil {
		t.Fatalf("FindByDigest ошибка: %v", err)
	}
	if total != 1 || len(ids) != 1 || ids[0] != f2 {
		t.Errorf("FindByDigest после перезаписи = %v (total=%d), ожидался [%s]", ids, total, f2)
	}

	// Файл со статусом deleted не находится, хотя атрибут остаётся
	f3 := insertFile(t, pool, model.FileStatusActive)
	if err := store.SetDigest(ctx, f3, hello); err != nil {
		t.Fatalf("SetDigest ошибка: %v", err)
	}
	if _, err := pool.Exec(ctx,
		`UPDATE file_registry SET status = $1 WHERE file_id = $2`, model.FileStatusDeleted, f3,
	); err != nil {
		t.Fatalf("пометка файла удалённым: %v", err)
	}
	ids, total, err = store.FindByDigest(ctx, hello, 10, 0)
	if err != nil {
		t.Fatalf("FindByDigest ошибка: %v", err)
	}
	if total != 1 || len(ids) != 1 || ids[0] != f2 {
		t.Errorf("FindByDigest с удалённым файлом = %v (total=%d), ожидался [%s]", ids, total, f2)
	}

	// Удаление файла каскадно удаляет атрибуты
	if _, err := pool.Exec(ctx, `DELETE FROM file_registry WHERE file_id = $1`, f2); err != nil {
		t.Fatalf("удаление файла: %v", err)
	}
	ids, _, err = store.FindByDigest(ctx, hello, 10, 0)
	if err != nil {
		t.Fatalf("FindByDigest ошибка: %v", err)
	}
	if len(ids) != 0 {
		t.Errorf("FindByDigest после удаления = %v, ожидался пустой результат", ids)
	}
}
