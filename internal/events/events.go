// Пакет events — события жизненного цикла файлов и их доставка подписчикам.
// Bus доставляет события синхронно в порядке подписки; источники
// (Redis pub/sub, HTTP webhook) публикуют события в общий Bus.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// Type — тип события о файле.
type Type string

// Поддерживаемые типы событий.
const (
	// TypeUploadComplete — загрузка содержимого файла завершена.
	TypeUploadComplete Type = "upload_complete"
	// TypeFileUpdated — содержимое файла заменено.
	TypeFileUpdated Type = "file_updated"
)

// ErrInvalidEvent — событие не прошло валидацию.
var ErrInvalidEvent = errors.New("некорректное событие")

// Event — уведомление о файле.
type Event struct {
	Type   Type   `json:"type"`
	FileID string `json:"file_id"`
}

// Validate проверяет тип события и формат file_id (UUID).
func (e Event) Validate() error {
	switch e.Type {
	case TypeUploadComplete, TypeFileUpdated:
	default:
		return fmt.Errorf("%w: неизвестный тип %q", ErrInvalidEvent, e.Type)
	}
	if _, err := uuid.Parse(e.FileID); err != nil {
		return fmt.Errorf("%w: некорректный file_id %q", ErrInvalidEvent, e.FileID)
	}
	return nil
}

// Decode разбирает JSON-сообщение события и валидирует его.
// file_id нормализуется к каноническому виду UUID.
func Decode(data []byte) (Event, error) {
	var e Event
	if err := json.Unmarshal(data, &e); err != nil {
		return Event{}, fmt.Errorf("%w: %w", ErrInvalidEvent, err)
	}
	e.Type = Type(strings.TrimSpace(string(e.Type)))
	if err := e.Validate(); err != nil {
		return Event{}, err
	}
	e.FileID = uuid.MustParse(e.FileID).String()
	return e, nil
}

// Handler — обработчик события. Ошибки обработчик логирует сам.
type Handler func(ctx context.Context, e Event)

// Source — источник событий, на который подписываются обработчики.
type Source interface {
	Subscribe(h Handler)
}

// Bus — синхронная шина событий внутри процесса.
type Bus struct {
	mu       sync.RWMutex
	handlers []Handler
}

// NewBus создаёт пустую шину.
func NewBus() *Bus {
	return &Bus{}
}

// Subscribe регистрирует обработчик.
func (b *Bus) Subscribe(h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = append(b.handlers, h)
}

// Publish вызывает всех подписчиков в порядке регистрации и возвращается
// после завершения последнего.
func (b *Bus) Publish(ctx context.Context, e Event) {
	b.mu.RLock()
	handlers := make([]Handler, len(b.handlers))
	copy(handlers, b.handlers)
	b.mu.RUnlock()

	for _, h := range handlers {
		h(ctx, e)
	}
}
