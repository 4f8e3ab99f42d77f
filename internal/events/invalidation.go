package events

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisInvalidator рассылает file_id файлов с новым дайджестом через
// Redis pub/sub. Каждый экземпляр Hash Index подписан на тот же канал
// и удаляет полученные file_id из своего кэша, включая собственные.
type RedisInvalidator struct {
	client  *redis.Client
	channel string
	logger  *slog.Logger
}

// NewRedisInvalidator создаёт рассылку поверх готового клиента Redis.
func NewRedisInvalidator(client *redis.Client, channel string, logger *slog.Logger) *RedisInvalidator {
	return &RedisInvalidator{
		client:  client,
		channel: channel,
		logger:  logger.With(slog.String("component", "cache_invalidation")),
	}
}

// DigestChanged публикует file_id в канал инвалидации.
// Ошибка публикации логируется: записи других экземпляров устареют
// не дольше чем на TTL кэша.
func (i *RedisInvalidator) DigestChanged(ctx context.Context, fileID string) {
	if err := i.client.Publish(ctx, i.channel, fileID).Err(); err != nil {
		i.logger.Warn("Не удалось разослать инвалидацию",
			slog.String("file_id", fileID),
			slog.String("error", err.Error()),
		)
	}
}

// Run вызывает evict для каждого полученного file_id до отмены ctx.
// Сообщения, не являющиеся UUID, пропускаются.
func (i *RedisInvalidator) Run(ctx context.Context, evict func(fileID string)) error {
	sub := i.client.Subscribe(ctx, i.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("подписка на канал %s: %w", i.channel, err)
	}
	i.logger.Info("Подписка на инвалидацию кэша активна", slog.String("channel", i.channel))

	ch := sub.Channel(redis.WithChannelSize(channelBufferSize))
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return fmt.Errorf("канал подписки %s закрыт", i.channel)
			}
			i.handleMessage(msg.Payload, evict)
		}
	}
}

func (i *RedisInvalidator) handleMessage(payload string, evict func(fileID string)) {
	id, err := uuid.Parse(payload)
	if err != nil {
		i.logger.Debug("Некорректная инвалидация пропущена", slog.String("payload", payload))
		return
	}
	evict(id.String())
}
