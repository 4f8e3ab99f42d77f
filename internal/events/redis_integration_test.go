package events

import (
	"context"
	"io"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// setupRedis запускает Redis контейнер и возвращает его адрес.
func setupRedis(t *testing.T) string {
	t.Helper()

	if os.Getenv("TEST_INTEGRATION") == "" {
		t.Skip("Пропуск интеграционного теста: TEST_INTEGRATION не установлена")
	}

	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "docker.io/redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(30 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		t.Fatalf("Не удалось запустить Redis контейнер: %v", err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("Ошибка остановки контейнера: %v", err)
		}
	})

	endpoint, err := container.Endpoint(ctx, "")
	if err != nil {
		t.Fatalf("Не удалось получить адрес контейнера: %v", err)
	}
	return endpoint
}

func TestRedisSource_Run(t *testing.T) {
	addr := setupRedis(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client, err := NewRedisClient(ctx, addr, "", 0)
	if err != nil {
		t.Fatalf("NewRedisClient ошибка: %v", err)
	}
	defer client.Close()

	received := make(chan Event, 1)
	bus := NewBus()
	bus.Subscribe(func(_ context.Context, e Event) { received <- e })

	src := NewRedisSource(client, "artstore.files", bus, 2, slog.New(slog.NewTextHandler(io.Discard, nil)))
	done := make(chan error, 1)
	go func() { done <- src.Run(ctx) }()

	// Публикуем до появления подписчика на стороне Redis
	deadline := time.Now().Add(10 * time.Second)
	for {
		n, err := client.Publish(ctx, "artstore.files",
			`{"type":"upload_complete","file_id":"`+testFileID+`"}`).Result()
		if err != nil {
			t.Fatalf("Publish ошибка: %v", err)
		}
		if n > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("подписчик не появился за 10s")
		}
		time.Sleep(100 * time.Millisecond)
	}

	select {
	case e := <-received:
		if e.FileID != testFileID || e.Type != TypeUploadComplete {
			t.Errorf("событие = %+v", e)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("событие не получено")
	}

	cancel()
	if err := <-done; err != nil {
		t.Errorf("Run вернул ошибку: %v", err)
	}
}

// TestRedisSource_ParallelWorkers — долгая обработка одного события
// не задерживает следующее.
func TestRedisSource_ParallelWorkers(t *testing.T) {
	addr := setupRedis(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client, err := NewRedisClient(ctx, addr, "", 0)
	if err != nil {
		t.Fatalf("NewRedisClient ошибка: %v", err)
	}
	defer client.Close()

	const otherFileID = "0b9d2c4e-1111-4c38-8f0e-0a1b2c3d4e5f"
	release := make(chan struct{})
	second := make(chan struct{})
	bus := NewBus()
	bus.Subscribe(func(_ context.Context, e Event) {
		if e.FileID == testFileID {
			<-release
			return
		}
		close(second)
	})

	src := NewRedisSource(client, "artstore.files", bus, 2, slog.New(slog.NewTextHandler(io.Discard, nil)))
	done := make(chan error, 1)
	go func() { done <- src.Run(ctx) }()
	waitSubscriber(t, client, "artstore.files")

	publish := func(fileID string) {
		if err := client.Publish(ctx, "artstore.files",
			`{"type":"file_updated","file_id":"`+fileID+`"}`).Err(); err != nil {
			t.Fatalf("Publish ошибка: %v", err)
		}
	}
	publish(testFileID)
	publish(otherFileID)

	select {
	case <-second:
	case <-time.After(10 * time.Second):
		t.Fatal("второе событие ждёт завершения первого")
	}
	close(release)

	cancel()
	if err := <-done; err != nil {
		t.Errorf("Run вернул ошибку: %v", err)
	}
}

func TestRedisInvalidator_Run(t *testing.T) {
	addr := setupRedis(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client, err := NewRedisClient(ctx, addr, "", 0)
	if err != nil {
		t.Fatalf("NewRedisClient ошибка: %v", err)
	}
	defer client.Close()

	inv := NewRedisInvalidator(client, "hash-index.digests", slog.New(slog.NewTextHandler(io.Discard, nil)))
	evicted := make(chan string, 1)
	done := make(chan error, 1)
	go func() { done <- inv.Run(ctx, func(id string) { evicted <- id }) }()
	waitSubscriber(t, client, "hash-index.digests")

	inv.DigestChanged(ctx, testFileID)

	select {
	case id := <-evicted:
		if id != testFileID {
			t.Errorf("file_id = %q, ожидался %q", id, testFileID)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("инвалидация не получена")
	}

	cancel()
	if err := <-done; err != nil {
		t.Errorf("Run вернул ошибку: %v", err)
	}
}

// waitSubscriber ждёт появления подписчика канала на стороне Redis.
func waitSubscriber(t *testing.T, client *redis.Client, channel string) {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		counts, err := client.PubSubNumSub(context.Background(), channel).Result()
		if err == nil && counts[channel] > 0 {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatalf("подписчик канала %s не появился", channel)
}
