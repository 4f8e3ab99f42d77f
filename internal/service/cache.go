// Пакет service — бизнес-логика Hash Index.
// CacheService — LRU-кэш дайджестов файлов с TTL.
// Обёртка над hashicorp/golang-lru/v2/expirable.
package service

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/goartstore/hash-index/internal/domain/model"
)

// Prometheus-метрики кэша.
var (
	cacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hi_cache_hits_total",
		Help: "Общее количество попаданий в LRU-кэш дайджестов.",
	})
	cacheMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hi_cache_misses_total",
		Help: "Общее количество промахов LRU-кэша дайджестов.",
	})
)

// CacheService — LRU-кэш file_id → дайджест с автоматическим TTL.
// Кэшируются только присутствующие дайджесты; каждый экземпляр
// Hash Index имеет собственный in-memory кэш, записи других экземпляров
// удаляются из него через DigestNotifier.
// nil *CacheService — кэш отключён: Get всегда промах, Set и Delete ничего не делают.
type CacheService struct {
	cache *expirable.LRU[string, model.Digest]
}

// NewCacheService создаёт LRU-кэш с указанным максимальным размером и TTL.
func NewCacheService(maxSize int, ttl time.Duration) *CacheService {
	cache := expirable.NewLRU[string, model.Digest](maxSize, nil, ttl)
	return &CacheService{cache: cache}
}

// Get возвращает дайджест из кэша по fileID.
// Обновляет Prometheus-метрики hit/miss.
func (c *CacheService) Get(fileID string) (model.Digest, bool) {
	if c == nil {
		return model.Digest{}, false
	}
	val, ok := c.cache.Get(fileID)
	if ok {
		cacheHitsTotal.Inc()
		return val, true
	}
	cacheMissesTotal.Inc()
	return model.Digest{}, false
}

// Set добавляет или обновляет дайджест в кэше.
func (c *CacheService) Set(fileID string, digest model.Digest) {
	if c == nil {
		return
	}
	c.cache.Add(fileID, digest)
}

// Delete удаляет запись из кэша.
func (c *CacheService) Delete(fileID string) {
	if c == nil {
		return
	}
	c.cache.Remove(fileID)
}

// Len возвращает количество записей в кэше.
func (c *CacheService) Len() int {
	if c == nil {
		return 0
	}
	return c.cache.Len()
}
