// Пакет config — загрузка и валидация конфигурации Hash Index
// из переменных окружения.
package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Версия приложения, задаётся при сборке через -ldflags.
var Version = "dev"

// Источники содержимого файлов.
const (
	FileSourceLocal  = "local"
	FileSourceRemote = "remote"
)

// Режимы backfill при старте.
const (
	BackfillOff     = "off"
	BackfillMissing = "missing"
	BackfillForce   = "force"
)

// Config содержит все параметры конфигурации Hash Index.
type Config struct {
	// --- Сервер ---

	// Порт HTTP-сервера (диапазон 8040-8049)
	Port int
	// Уровень логирования (debug, info, warn, error)
	LogLevel slog.Level
	// Формат логов (json, text)
	LogFormat string

	// --- PostgreSQL ---

	DBHost     string
	DBPort     int
	DBName     string
	DBUser     string
	DBPassword string
	// Режим SSL (disable, require, verify-ca, verify-full)
	DBSSLMode string

	// --- Файловое хранилище ---

	// Источник содержимого: local (диск) или remote (Storage Element по HTTP)
	FileSource string
	// Корневая директория файлов для local
	DataDir string
	// Базовый URL Storage Element для remote
	SEURL string
	// Статический Bearer-токен для запросов к SE (опционально)
	SEToken string
	// URL Admin Module для получения SA-токена (пусто — используется SEToken)
	AdminURL string
	// Client ID сервисного аккаунта
	ClientID string
	// Client Secret сервисного аккаунта
	ClientSecret string //nolint:gosec // G101: поле структуры
	// Таймаут запросов к Admin Module
	AdminTimeout time.Duration
	// Путь к CA-сертификату SE (опционально)
	SECACertPath string
	// Таймаут скачивания из SE
	SETimeout time.Duration

	// --- Вычисление дайджестов ---

	// Максимальное время чтения одного файла при вычислении дайджеста
	HashTimeout time.Duration
	// Режим backfill при старте: off, missing, force
	BackfillMode string
	// Количество параллельных воркеров backfill
	BackfillWorkers int
	// Размер страницы file_registry при backfill
	BackfillPageSize int

	// --- Кэш ---

	// Максимальное количество дайджестов в LRU-кэше
	CacheMaxSize int
	// TTL записи кэша
	CacheTTL time.Duration
	// Канал Redis для рассылки изменений дайджестов между экземплярами.
	// Кэш включается только при заданном HI_EVENTS_REDIS_ADDR.
	CacheInvalidationChannel string

	// --- События ---

	// Адрес Redis для подписки на события (пусто — подписка отключена)
	EventsRedisAddr string
	// Пароль Redis
	EventsRedisPassword string
	// Номер БД Redis
	EventsRedisDB int
	// Канал pub/sub
	EventsRedisChannel string
	// Количество параллельных обработчиков событий Redis
	EventsWorkers int
	// Наблюдение за HI_DATA_DIR (только local): изменения файлов → file_updated
	WatchEnabled bool
	// Окно объединения событий одного файла
	WatchDebounce time.Duration

	// --- JWT ---

	// Включена ли JWT-аутентификация
	AuthEnabled bool
	// URL JWKS endpoint Keycloak
	JWTJWKSURL string
	// Ожидаемый issuer (пусто — не проверяется)
	JWTIssuer string
	// Путь к CA-сертификату Keycloak
	JWKSCACertPath string
	// Допустимое отклонение времени
	JWTLeeway time.Duration
	// Интервал обновления JWKS
	JWKSRefreshInterval time.Duration
	// Таймаут HTTP-клиента JWKS
	JWKSClientTimeout time.Duration
	// Группы IdP, дающие роль admin
	AdminGroups []string
	// Группы IdP, дающие роль readonly
	ReadonlyGroups []string

	// --- topologymetrics ---

	// Включён ли мониторинг зависимостей
	DephealthEnabled bool
	// Имя группы в метриках
	DephealthGroup string
	// Интервал проверки зависимостей
	DephealthCheckInterval time.Duration

	// --- HTTP Server Timeouts ---

	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration

	// --- Graceful shutdown ---

	// Таймаут graceful shutdown (по умолчанию 5s)
	ShutdownTimeout time.Duration
}

// validSSLModes — допустимые значения HI_DB_SSL_MODE.
var validSSLModes = map[string]bool{
	"disable":     true,
	"require":     true,
	"verify-ca":   true,
	"verify-full": true,
}

// Load загружает конфигурацию из переменных окружения.
// Возвращает ошибку, если обязательные переменные не заданы
// или значения некорректны.
//
//nolint:cyclop,funlen // линейная последовательность чтения переменных
func Load() (*Config, error) {
	cfg := &Config{}
	var err error

	// --- Сервер ---

	cfg.Port, err = getEnvInt("HI_PORT", 8040)
	if err != nil {
		return nil, fmt.Errorf("HI_PORT: %w", err)
	}
	if cfg.Port < 1 || cfg.Port > 65535 {
		return nil, fmt.Errorf("HI_PORT: значение %d вне диапазона 1-65535", cfg.Port)
	}

	cfg.LogLevel, err = parseLogLevel(getEnvDefault("HI_LOG_LEVEL", "info"))
	if err != nil {
		return nil, fmt.Errorf("HI_LOG_LEVEL: %w", err)
	}

	cfg.LogFormat = getEnvDefault("HI_LOG_FORMAT", "json")
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return nil, fmt.Errorf("HI_LOG_FORMAT: недопустимый формат %q, допустимые: json, text", cfg.LogFormat)
	}

	// --- PostgreSQL ---

	if cfg.DBHost, err = getEnvRequired("HI_DB_HOST"); err != nil {
		return nil, err
	}
	cfg.DBPort, err = getEnvInt("HI_DB_PORT", 5432)
	if err != nil {
		return nil, fmt.Errorf("HI_DB_PORT: %w", err)
	}
	if cfg.DBName, err = getEnvRequired("HI_DB_NAME"); err != nil {
		return nil, err
	}
	if cfg.DBUser, err = getEnvRequired("HI_DB_USER"); err != nil {
		return nil, err
	}
	if cfg.DBPassword, err = getEnvRequired("HI_DB_PASSWORD"); err != nil {
		return nil, err
	}
	cfg.DBSSLMode = getEnvDefault("HI_DB_SSL_MODE", "disable")
	if !validSSLModes[cfg.DBSSLMode] {
		return nil, fmt.Errorf("HI_DB_SSL_MODE: недопустимое значение %q, допустимые: disable, require, verify-ca, verify-full", cfg.DBSSLMode)
	}

	// --- Файловое хранилище ---

	cfg.FileSource = getEnvDefault("HI_FILE_SOURCE", FileSourceLocal)
	switch cfg.FileSource {
	case FileSourceLocal:
		cfg.DataDir = getEnvDefault("HI_DATA_DIR", "/data")
	case FileSourceRemote:
		if cfg.SEURL, err = getEnvRequired("HI_SE_URL"); err != nil {
			return nil, err
		}
		if _, parseErr := url.ParseRequestURI(cfg.SEURL); parseErr != nil {
			return nil, fmt.Errorf("HI_SE_URL: некорректный URL %q", cfg.SEURL)
		}
	default:
		return nil, fmt.Errorf("HI_FILE_SOURCE: недопустимое значение %q, допустимые: local, remote", cfg.FileSource)
	}
	cfg.SEToken = os.Getenv("HI_SE_TOKEN")
	cfg.AdminURL = os.Getenv("HI_ADMIN_URL")
	if cfg.AdminURL != "" {
		if cfg.ClientID, err = getEnvRequired("HI_CLIENT_ID"); err != nil {
			return nil, err
		}
		if cfg.ClientSecret, err = getEnvRequired("HI_CLIENT_SECRET"); err != nil {
			return nil, err
		}
	}
	cfg.AdminTimeout, err = getEnvDurationPositive("HI_ADMIN_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("HI_ADMIN_TIMEOUT: %w", err)
	}
	cfg.SECACertPath = os.Getenv("HI_SE_CA_CERT_PATH")
	cfg.SETimeout, err = getEnvDurationPositive("HI_SE_TIMEOUT", 5*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("HI_SE_TIMEOUT: %w", err)
	}

	// --- Вычисление дайджестов ---

	cfg.HashTimeout, err = getEnvDurationPositive("HI_HASH_TIMEOUT", 10*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("HI_HASH_TIMEOUT: %w", err)
	}

	cfg.BackfillMode = getEnvDefault("HI_BACKFILL_MODE", BackfillMissing)
	switch cfg.BackfillMode {
	case BackfillOff, BackfillMissing, BackfillForce:
	default:
		return nil, fmt.Errorf("HI_BACKFILL_MODE: недопустимое значение %q, допустимые: off, missing, force", cfg.BackfillMode)
	}

	cfg.BackfillWorkers, err = getEnvInt("HI_BACKFILL_WORKERS", 4)
	if err != nil {
		return nil, fmt.Errorf("HI_BACKFILL_WORKERS: %w", err)
	}
	if cfg.BackfillWorkers < 1 {
		return nil, fmt.Errorf("HI_BACKFILL_WORKERS: значение должно быть >= 1")
	}

	cfg.BackfillPageSize, err = getEnvInt("HI_BACKFILL_PAGE_SIZE", 500)
	if err != nil {
		return nil, fmt.Errorf("HI_BACKFILL_PAGE_SIZE: %w", err)
	}
	if cfg.BackfillPageSize < 1 {
		return nil, fmt.Errorf("HI_BACKFILL_PAGE_SIZE: значение должно быть >= 1")
	}

	// --- Кэш ---

	cfg.CacheMaxSize, err = getEnvInt("HI_CACHE_MAX_SIZE", 10000)
	if err != nil {
		return nil, fmt.Errorf("HI_CACHE_MAX_SIZE: %w", err)
	}
	if cfg.CacheMaxSize < 1 {
		return nil, fmt.Errorf("HI_CACHE_MAX_SIZE: значение должно быть >= 1")
	}
	cfg.CacheTTL, err = getEnvDurationPositive("HI_CACHE_TTL", 5*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("HI_CACHE_TTL: %w", err)
	}
	cfg.CacheInvalidationChannel = getEnvDefault("HI_CACHE_INVALIDATION_CHANNEL", "hash-index.digests")

	// --- События ---

	cfg.EventsRedisAddr = os.Getenv("HI_EVENTS_REDIS_ADDR")
	cfg.EventsRedisPassword = os.Getenv("HI_EVENTS_REDIS_PASSWORD")
	cfg.EventsRedisDB, err = getEnvInt("HI_EVENTS_REDIS_DB", 0)
	if err != nil {
		return nil, fmt.Errorf("HI_EVENTS_REDIS_DB: %w", err)
	}
	cfg.EventsRedisChannel = getEnvDefault("HI_EVENTS_REDIS_CHANNEL", "artstore.files")
	if cfg.EventsRedisAddr != "" && cfg.EventsRedisChannel == cfg.CacheInvalidationChannel {
		return nil, fmt.Errorf("HI_CACHE_INVALIDATION_CHANNEL: канал совпадает с HI_EVENTS_REDIS_CHANNEL")
	}
	cfg.EventsWorkers, err = getEnvInt("HI_EVENTS_WORKERS", 4)
	if err != nil {
		return nil, fmt.Errorf("HI_EVENTS_WORKERS: %w", err)
	}
	if cfg.EventsWorkers < 1 {
		return nil, fmt.Errorf("HI_EVENTS_WORKERS: значение должно быть >= 1")
	}

	cfg.WatchEnabled, err = getEnvBool("HI_WATCH_ENABLED", false)
	if err != nil {
		return nil, fmt.Errorf("HI_WATCH_ENABLED: %w", err)
	}
	if cfg.WatchEnabled && cfg.FileSource != FileSourceLocal {
		return nil, fmt.Errorf("HI_WATCH_ENABLED: наблюдение доступно только при HI_FILE_SOURCE=local")
	}
	cfg.WatchDebounce, err = getEnvDurationPositive("HI_WATCH_DEBOUNCE", 500*time.Millisecond)
	if err != nil {
		return nil, fmt.Errorf("HI_WATCH_DEBOUNCE: %w", err)
	}

	// --- JWT ---

	cfg.AuthEnabled, err = getEnvBool("HI_AUTH_ENABLED", true)
	if err != nil {
		return nil, fmt.Errorf("HI_AUTH_ENABLED: %w", err)
	}
	if cfg.AuthEnabled {
		if cfg.JWTJWKSURL, err = getEnvRequired("HI_JWT_JWKS_URL"); err != nil {
			return nil, err
		}
	}
	cfg.JWTIssuer = os.Getenv("HI_JWT_ISSUER")
	cfg.JWKSCACertPath = os.Getenv("HI_JWKS_CA_CERT_PATH")
	cfg.JWTLeeway, err = getEnvDuration("HI_JWT_LEEWAY", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("HI_JWT_LEEWAY: %w", err)
	}
	cfg.JWKSRefreshInterval, err = getEnvDurationPositive("HI_JWKS_REFRESH_INTERVAL", 15*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("HI_JWKS_REFRESH_INTERVAL: %w", err)
	}
	cfg.JWKSClientTimeout, err = getEnvDurationPositive("HI_JWKS_CLIENT_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("HI_JWKS_CLIENT_TIMEOUT: %w", err)
	}
	cfg.AdminGroups = getEnvList("HI_AUTH_ADMIN_GROUPS", []string{"artstore-admins"})
	cfg.ReadonlyGroups = getEnvList("HI_AUTH_READONLY_GROUPS", []string{"artstore-viewers"})

	// --- topologymetrics ---

	cfg.DephealthEnabled, err = getEnvBool("HI_DEPHEALTH_ENABLED", true)
	if err != nil {
		return nil, fmt.Errorf("HI_DEPHEALTH_ENABLED: %w", err)
	}
	cfg.DephealthGroup = getEnvDefault("HI_DEPHEALTH_GROUP", "artstore")
	cfg.DephealthCheckInterval, err = getEnvDurationPositive("HI_DEPHEALTH_CHECK_INTERVAL", 15*time.Second)
	if err != nil {
		return nil, fmt.Errorf("HI_DEPHEALTH_CHECK_INTERVAL: %w", err)
	}

	// --- HTTP Server Timeouts ---

	cfg.HTTPReadTimeout, err = getEnvDuration("HI_HTTP_READ_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("HI_HTTP_READ_TIMEOUT: %w", err)
	}
	// Запись включает синхронный пересчёт дайджеста больших файлов
	cfg.HTTPWriteTimeout, err = getEnvDuration("HI_HTTP_WRITE_TIMEOUT", 11*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("HI_HTTP_WRITE_TIMEOUT: %w", err)
	}
	cfg.HTTPIdleTimeout, err = getEnvDuration("HI_HTTP_IDLE_TIMEOUT", 120*time.Second)
	if err != nil {
		return nil, fmt.Errorf("HI_HTTP_IDLE_TIMEOUT: %w", err)
	}

	// --- Graceful shutdown ---

	cfg.ShutdownTimeout, err = getEnvDuration("HI_SHUTDOWN_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("HI_SHUTDOWN_TIMEOUT: %w", err)
	}

	return cfg, nil
}

// DatabaseDSN возвращает строку подключения к PostgreSQL для pgxpool.
func (c *Config) DatabaseDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		c.DBHost, c.DBPort, c.DBName, c.DBUser, c.DBPassword, c.DBSSLMode,
	)
}

// DatabaseURL возвращает URL подключения без пароля (для лейблов topologymetrics).
func (c *Config) DatabaseURL() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.User(c.DBUser),
		Host:     fmt.Sprintf("%s:%d", c.DBHost, c.DBPort),
		Path:     "/" + c.DBName,
		RawQuery: "sslmode=" + c.DBSSLMode,
	}
	return u.String()
}

// MigrateURL возвращает URL для golang-migrate (драйвер pgx5).
func (c *Config) MigrateURL() string {
	u := url.URL{
		Scheme:   "pgx5",
		User:     url.UserPassword(c.DBUser, c.DBPassword),
		Host:     fmt.Sprintf("%s:%d", c.DBHost, c.DBPort),
		Path:     "/" + c.DBName,
		RawQuery: "sslmode=" + c.DBSSLMode,
	}
	return u.String()
}

// SetupLogger настраивает глобальный slog-логгер на основе конфигурации.
func SetupLogger(cfg *Config) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// --- Вспомогательные функции ---

// getEnvRequired возвращает значение переменной окружения или ошибку, если она не задана.
func getEnvRequired(key string) (string, error) {
	val := os.Getenv(key)
	if val == "" {
		return "", fmt.Errorf("%s: обязательная переменная окружения не задана", key)
	}
	return val, nil
}

// getEnvDefault возвращает значение переменной окружения или значение по умолчанию.
func getEnvDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

// getEnvInt возвращает целочисленное значение переменной окружения или значение по умолчанию.
func getEnvInt(key string, defaultVal int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("некорректное целое число: %q", val)
	}
	return n, nil
}

// getEnvDuration возвращает time.Duration из переменной окружения или значение по умолчанию.
func getEnvDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("некорректная длительность: %q (используйте формат Go: 30s, 1h, 15m)", val)
	}
	return d, nil
}

// getEnvDurationPositive — как getEnvDuration, но значение должно быть > 0.
func getEnvDurationPositive(key string, defaultVal time.Duration) (time.Duration, error) {
	d, err := getEnvDuration(key, defaultVal)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, fmt.Errorf("значение должно быть > 0")
	}
	return d, nil
}

// getEnvBool возвращает булево значение переменной окружения или значение по умолчанию.
func getEnvBool(key string, defaultVal bool) (bool, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return false, fmt.Errorf("некорректное булево значение: %q (допустимые: true, false, 1, 0)", val)
	}
	return b, nil
}

// getEnvList разбирает список через запятую, пустые элементы отбрасываются.
func getEnvList(key string, defaultVal []string) []string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	var result []string
	for _, item := range strings.Split(val, ",") {
		if item = strings.TrimSpace(item); item != "" {
			result = append(result, item)
		}
	}
	return result
}

// parseLogLevel преобразует строку уровня логирования в slog.Level.
func parseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("недопустимый уровень %q, допустимые: debug, info, warn, error", level)
	}
}
