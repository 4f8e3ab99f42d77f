package events

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
)

// channelBufferSize — буфер канала подписки go-redis. Пока все обработчики
// заняты, сообщения копятся в буфере; при переполнении go-redis отбрасывает
// сообщение по истечении своего таймаута отправки (1 минута).
const channelBufferSize = 1000

// Источники событий (значение лейбла source).
const (
	SourceRedis   = "redis"
	SourceWebhook = "webhook"
	SourceWatcher = "watcher"
)

// ReceivedTotal — счётчик полученных событий по источнику и результату разбора.
var ReceivedTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "hi_events_received_total",
		Help: "Количество полученных событий о файлах",
	},
	[]string{"source", "result"},
)

// Publisher — получатель разобранных событий (обычно *Bus).
type Publisher interface {
	Publish(ctx context.Context, e Event)
}

// RedisSource — подписка на канал Redis pub/sub с событиями о файлах.
// Сообщение канала — JSON {"type": "...", "file_id": "..."}.
type RedisSource struct {
	client  *redis.Client
	channel string
	pub     Publisher
	workers int
	logger  *slog.Logger
}

// NewRedisSource создаёт источник событий поверх готового клиента Redis.
// workers — количество событий, обрабатываемых параллельно.
func NewRedisSource(client *redis.Client, channel string, pub Publisher, workers int, logger *slog.Logger) *RedisSource {
	if workers < 1 {
		workers = 1
	}
	return &RedisSource{
		client:  client,
		channel: channel,
		pub:     pub,
		workers: workers,
		logger:  logger.With(slog.String("component", "redis_events")),
	}
}

// NewRedisClient создаёт клиент Redis и проверяет соединение.
func NewRedisClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("подключение к Redis %s: %w", addr, err)
	}
	return client, nil
}

// Run подписывается на канал и публикует события до отмены ctx.
// События обрабатываются пулом из workers обработчиков; порядок между
// событиями разных файлов не сохраняется. Когда все обработчики заняты,
// чтение канала ждёт освобождения (см. channelBufferSize).
// Перед возвратом Run дожидается запущенных обработчиков.
func (s *RedisSource) Run(ctx context.Context) error {
	sub := s.client.Subscribe(ctx, s.channel)
	defer sub.Close()

	// Дожидаемся подтверждения подписки
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("подписка на канал %s: %w", s.channel, err)
	}
	s.logger.Info("Подписка на события Redis активна",
		slog.String("channel", s.channel),
		slog.Int("workers", s.workers),
	)

	g := new(errgroup.Group)
	g.SetLimit(s.workers)
	defer func() { _ = g.Wait() }()

	ch := sub.Channel(redis.WithChannelSize(channelBufferSize))
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Подписка на события Redis остановлена")
			return nil
		case msg, ok := <-ch:
			if !ok {
				return fmt.Errorf("канал подписки %s закрыт", s.channel)
			}
			payload := msg.Payload
			g.Go(func() error {
				s.handleMessage(ctx, payload)
				return nil
			})
		}
	}
}

// handleMessage разбирает сообщение и передаёт событие подписчикам.
// Некорректные сообщения логируются и пропускаются.
func (s *RedisSource) handleMessage(ctx context.Context, payload string) {
	e, err := Decode([]byte(payload))
	if err != nil {
		ReceivedTotal.WithLabelValues(SourceRedis, "invalid").Inc()
		s.logger.Warn("Некорректное событие пропущено",
			slog.String("payload", payload),
			slog.String("error", err.Error()),
		)
		return
	}

	ReceivedTotal.WithLabelValues(SourceRedis, "accepted").Inc()
	s.logger.Debug("Событие получено",
		slog.String("type", string(e.Type)),
		slog.String("file_id", e.FileID),
	)
	s.pub.Publish(ctx, e)
}
