// Точка входа Hash Index — сервис SHA-1 дайджестов содержимого файлов Artstore.
// Загружает конфигурацию, применяет миграции, подключается к PostgreSQL,
// выбирает источник содержимого (локальный диск или Storage Element),
// подписывает сервис на события, запускает backfill, topologymetrics
// и HTTP-сервер с JWT middleware и graceful shutdown.
package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/jackc/pgx/v5/stdlib"

	"github.com/bigkaa/goartstore/hash-index/internal/adminclient"
	"github.com/bigkaa/goartstore/hash-index/internal/api/handlers"
	"github.com/bigkaa/goartstore/hash-index/internal/api/middleware"
	"github.com/bigkaa/goartstore/hash-index/internal/config"
	"github.com/bigkaa/goartstore/hash-index/internal/database"
	"github.com/bigkaa/goartstore/hash-index/internal/events"
	"github.com/bigkaa/goartstore/hash-index/internal/repository"
	"github.com/bigkaa/goartstore/hash-index/internal/seclient"
	"github.com/bigkaa/goartstore/hash-index/internal/server"
	"github.com/bigkaa/goartstore/hash-index/internal/service"
	"github.com/bigkaa/goartstore/hash-index/internal/storage/filestore"
)

func main() {
	os.Exit(run())
}

//nolint:funlen // линейная последовательность инициализации
func run() int {
	// 1. Загрузка конфигурации из переменных окружения
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Ошибка загрузки конфигурации", slog.String("error", err.Error()))
		return 1
	}

	// 2. Настройка логирования
	logger := config.SetupLogger(cfg)
	logger.Info("Hash Index запускается",
		slog.String("version", config.Version),
		slog.Int("port", cfg.Port),
		slog.String("file_source", cfg.FileSource),
		slog.String("backfill_mode", cfg.BackfillMode),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 3. Применение миграций БД
	logger.Info("Применение миграций БД...")
	if err := database.Migrate(cfg, logger); err != nil {
		logger.Error("Ошибка миграций БД", slog.String("error", err.Error()))
		return 1
	}

	// 4. Подключение к PostgreSQL (pgxpool)
	pool, err := database.Connect(ctx, cfg, logger)
	if err != nil {
		logger.Error("Ошибка подключения к PostgreSQL", slog.String("error", err.Error()))
		return 1
	}
	defer pool.Close()

	// 4.1 Адаптер pgxpool → *sql.DB для topologymetrics (connection pool mode)
	pgDB := stdlib.OpenDBFromPool(pool)
	defer pgDB.Close()

	// 5. Repositories
	fileRepo := repository.NewFileRepository(pool)
	digestStore := repository.NewDigestStore(repository.NewAttributeStore(pool))

	// 6. Источник содержимого файлов
	files, err := newFileStore(cfg, logger)
	if err != nil {
		logger.Error("Ошибка создания источника содержимого", slog.String("error", err.Error()))
		return 1
	}

	// 7. Redis: источник событий и рассылка инвалидаций кэша.
	// Клиент закрывается после остановки фоновых задач (defer ниже регистрируется позже).
	bus := events.NewBus()
	var (
		redisSource *events.RedisSource
		invalidator *events.RedisInvalidator
	)
	if cfg.EventsRedisAddr != "" {
		redisClient, redisErr := events.NewRedisClient(ctx, cfg.EventsRedisAddr, cfg.EventsRedisPassword, cfg.EventsRedisDB)
		if redisErr != nil {
			logger.Error("Ошибка подключения к Redis", slog.String("error", redisErr.Error()))
			return 1
		}
		defer redisClient.Close()
		redisSource = events.NewRedisSource(redisClient, cfg.EventsRedisChannel, bus, cfg.EventsWorkers, logger)
		invalidator = events.NewRedisInvalidator(redisClient, cfg.CacheInvalidationChannel, logger)
	}

	// 7.1 Сервисный слой: кэш и HashIndex.
	// Кэш согласован между экземплярами только через канал инвалидации,
	// поэтому без Redis он отключён.
	var cache *service.CacheService
	if invalidator != nil {
		cache = service.NewCacheService(cfg.CacheMaxSize, cfg.CacheTTL)
	} else {
		logger.Info("Кэш дайджестов отключён: не задан HI_EVENTS_REDIS_ADDR")
	}
	hashIndex := service.NewHashIndex(fileRepo, digestStore, files, cache, bus, cfg.HashTimeout, logger)
	if invalidator != nil {
		hashIndex.SetDigestNotifier(invalidator)
	}

	// 8. Readiness checkers (PostgreSQL + Keycloak при включённой аутентификации)
	pgChecker := database.NewReadinessChecker(pool)
	var kcChecker handlers.ReadinessChecker
	if cfg.AuthEnabled {
		kc, kcErr := middleware.NewKeycloakReadinessChecker(cfg.JWTJWKSURL, cfg.JWKSCACertPath, cfg.JWKSClientTimeout)
		if kcErr != nil {
			logger.Error("Ошибка создания Keycloak readiness checker", slog.String("error", kcErr.Error()))
			return 1
		}
		kcChecker = kc
	}
	healthHandler := handlers.NewHealthHandler(pgChecker, kcChecker)

	// 9. API handler (реализует generated.ServerInterface)
	apiHandler := handlers.NewAPIHandler(healthHandler, hashIndex, bus, cfg.AuthEnabled, logger)

	// 10. JWT middleware
	var jwtAuth *middleware.JWTAuth
	if cfg.AuthEnabled {
		jwtAuth, err = middleware.NewJWTAuth(
			cfg.JWTJWKSURL,
			cfg.JWKSCACertPath,
			cfg.JWTIssuer,
			cfg.AdminGroups,
			cfg.ReadonlyGroups,
			cfg.JWKSClientTimeout,
			cfg.JWKSRefreshInterval,
			cfg.JWTLeeway,
			logger,
		)
		if err != nil {
			logger.Error("Ошибка создания JWT middleware", slog.String("error", err.Error()))
			return 1
		}
		logger.Info("JWT middleware инициализирован",
			slog.String("jwks_url", cfg.JWTJWKSURL),
			slog.String("issuer", cfg.JWTIssuer),
		)
	} else {
		logger.Warn("JWT-аутентификация отключена (HI_AUTH_ENABLED=false)")
	}

	// 10.1 HTTP-сервер: контракт OpenAPI проверяется до запуска фоновых задач
	srv, err := server.New(cfg, logger, apiHandler, jwtAuth)
	if err != nil {
		logger.Error("Ошибка создания HTTP-сервера", slog.String("error", err.Error()))
		return 1
	}

	// 11. Фоновые задачи: подписка на Redis, инвалидация кэша,
	// наблюдение за каталогом и backfill.
	bgCtx, cancelBg := context.WithCancel(ctx)
	var bg sync.WaitGroup
	defer func() {
		cancelBg()
		bg.Wait()
	}()

	if redisSource != nil {
		bg.Add(1)
		go func() {
			defer bg.Done()
			if runErr := redisSource.Run(bgCtx); runErr != nil && !errors.Is(runErr, context.Canceled) {
				logger.Error("Подписка на события Redis остановлена", slog.String("error", runErr.Error()))
			}
		}()
	}

	if invalidator != nil {
		bg.Add(1)
		go func() {
			defer bg.Done()
			if runErr := invalidator.Run(bgCtx, hashIndex.EvictDigest); runErr != nil && !errors.Is(runErr, context.Canceled) {
				logger.Error("Подписка на инвалидацию кэша остановлена", slog.String("error", runErr.Error()))
			}
		}()
	}

	if cfg.WatchEnabled {
		watcher := events.NewDirWatcher(cfg.DataDir, hashIndex.ResolveStoragePath, bus, cfg.WatchDebounce, logger)
		bg.Add(1)
		go func() {
			defer bg.Done()
			if runErr := watcher.Run(bgCtx); runErr != nil {
				logger.Error("Наблюдение за хранилищем остановлено", slog.String("error", runErr.Error()))
			}
		}()
	}

	if cfg.BackfillMode != config.BackfillOff {
		bg.Add(1)
		go func() {
			defer bg.Done()
			_, bfErr := hashIndex.Backfill(bgCtx, service.BackfillOptions{
				Mode:     cfg.BackfillMode,
				Workers:  cfg.BackfillWorkers,
				PageSize: cfg.BackfillPageSize,
			})
			if bfErr != nil && !errors.Is(bfErr, context.Canceled) {
				logger.Error("Backfill прерван", slog.String("error", bfErr.Error()))
			}
		}()
	}

	// 11.1 topologymetrics — мониторинг зависимостей (PostgreSQL + Storage Element)
	if cfg.DephealthEnabled {
		seURL := ""
		if cfg.FileSource == config.FileSourceRemote {
			seURL = cfg.SEURL
		}
		dephealthSvc, dhErr := service.NewDephealthService(
			"hash-index",
			cfg.DephealthGroup,
			pgDB,
			cfg.DatabaseURL(),
			seURL,
			cfg.DephealthCheckInterval,
			logger,
		)
		if dhErr != nil {
			logger.Warn("topologymetrics недоступен, запуск без мониторинга зависимостей",
				slog.String("error", dhErr.Error()),
			)
		} else if startErr := dephealthSvc.Start(ctx); startErr != nil {
			logger.Warn("Ошибка запуска topologymetrics", slog.String("error", startErr.Error()))
		} else {
			defer dephealthSvc.Stop()
			logger.Info("topologymetrics запущен",
				slog.String("group", cfg.DephealthGroup),
				slog.String("check_interval", cfg.DephealthCheckInterval.String()),
			)
		}
	}

	// 12. HTTP-сервер
	if err := srv.Run(ctx); err != nil {
		logger.Error("Ошибка сервера", slog.String("error", err.Error()))
		return 1
	}

	logger.Info("Hash Index остановлен")
	return 0
}

// newFileStore создаёт источник содержимого по HI_FILE_SOURCE.
// remote: токен берётся у Admin Module (client credentials) или статический HI_SE_TOKEN.
func newFileStore(cfg *config.Config, logger *slog.Logger) (service.FileStore, error) {
	if cfg.FileSource == config.FileSourceLocal {
		fs, err := filestore.New(cfg.DataDir)
		if err != nil {
			return nil, err
		}
		logger.Info("Источник содержимого: локальный диск", slog.String("data_dir", fs.DataDir()))
		return fs, nil
	}

	tokens := seclient.StaticToken(cfg.SEToken)
	if cfg.AdminURL != "" {
		am, err := adminclient.New(cfg.AdminURL, cfg.SECACertPath, cfg.AdminTimeout,
			cfg.ClientID, cfg.ClientSecret, logger)
		if err != nil {
			return nil, err
		}
		tokens = am.GetToken
	}

	se, err := seclient.New(cfg.SEURL, cfg.SECACertPath, cfg.SETimeout, tokens, logger)
	if err != nil {
		return nil, err
	}
	logger.Info("Источник содержимого: Storage Element", slog.String("se_url", cfg.SEURL))
	return se, nil
}
