// Пакет seclient — чтение содержимого файлов из Storage Element по HTTP.
// Используется как источник файлов при HI_FILE_SOURCE=remote.
// Поддерживает TLS с кастомным CA (HI_SE_CA_CERT_PATH) и streaming download.
package seclient

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/bigkaa/goartstore/hash-index/internal/domain/model"
)

// ErrFileNotFound — SE не содержит файла (404).
var ErrFileNotFound = errors.New("файл не найден в Storage Element")

// TokenProvider — функция, возвращающая токен для авторизации запросов к SE.
// Обычно это adminclient.Client.GetToken или StaticToken.
type TokenProvider func(ctx context.Context) (string, error)

// StaticToken возвращает TokenProvider с фиксированным токеном (HI_SE_TOKEN).
func StaticToken(token string) TokenProvider {
	return func(context.Context) (string, error) {
		return token, nil
	}
}

// Client — HTTP-клиент Storage Element.
type Client struct {
	httpClient    *http.Client
	baseURL       string
	tokenProvider TokenProvider
	logger        *slog.Logger
}

// New создаёт SE-клиент.
// baseURL — базовый URL Storage Element (например, https://se-01:8010).
// caCertPath — путь к CA-сертификату для TLS (пустая строка — стандартный пул).
// tokenProvider может быть nil: запросы уходят без Authorization.
func New(baseURL, caCertPath string, timeout time.Duration, tokenProvider TokenProvider, logger *slog.Logger) (*Client, error) {
	transport := &http.Transport{
		MaxIdleConnsPerHost: 10,
	}

	if caCertPath != "" {
		tlsConfig, err := buildTLSConfig(caCertPath)
		if err != nil {
			return nil, fmt.Errorf("загрузка CA-сертификата SE: %w", err)
		}
		transport.TLSClientConfig = tlsConfig
		logger.Info("CA-сертификат SE добавлен в пул доверия",
			slog.String("ca_cert", caCertPath),
		)
	}

	return &Client{
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: transport,
		},
		baseURL:       strings.TrimRight(baseURL, "/"),
		tokenProvider: tokenProvider,
		logger:        logger.With(slog.String("component", "se_client")),
	}, nil
}

// AttachedFile возвращает ссылку на содержимое файла в SE.
// Для удалённого источника ссылкой служит сам file_id.
func (c *Client) AttachedFile(_ context.Context, record *model.FileRecord) (string, error) {
	if record.FileID == "" {
		return "", fmt.Errorf("пустой file_id")
	}
	return record.FileID, nil
}

// FileExists проверяет наличие содержимого GET-запросом первого байта
// (Range: bytes=0-0); тело сразу закрывается. SE регистрирует download
// только для GET, поэтому HEAD не используется.
// 416 означает существующий пустой файл.
// Любая ошибка транспорта трактуется как недоступность.
func (c *Client) FileExists(ctx context.Context, fileID string) bool {
	resp, err := c.do(ctx, http.MethodGet, fileID, "bytes=0-0")
	if err != nil {
		c.logger.Warn("Проверка файла в SE завершилась ошибкой",
			slog.String("file_id", fileID),
			slog.String("error", err.Error()),
		)
		return false
	}
	_ = resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusPartialContent, http.StatusRequestedRangeNotSatisfiable:
		return true
	default:
		return false
	}
}

// Open выполняет streaming-загрузку содержимого файла.
// Вызывающий код обязан закрыть ReadCloser.
func (c *Client) Open(ctx context.Context, fileID string) (io.ReadCloser, error) {
	resp, err := c.do(ctx, http.MethodGet, fileID, "")
	if err != nil {
		return nil, err
	}

	switch resp.StatusCode {
	case http.StatusOK:
		return resp.Body, nil
	case http.StatusNotFound:
		_ = resp.Body.Close()
		return nil, fmt.Errorf("%w: %s", ErrFileNotFound, fileID)
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		_ = resp.Body.Close()
		return nil, fmt.Errorf("SE вернул статус %d для файла %s: %s", resp.StatusCode, fileID, string(body))
	}
}

// do отправляет запрос к {baseURL}/api/v1/files/{fileID}/download.
// byteRange — значение заголовка Range, пустая строка — весь файл.
func (c *Client) do(ctx context.Context, method, fileID, byteRange string) (*http.Response, error) {
	reqURL := fmt.Sprintf("%s/api/v1/files/%s/download", c.baseURL, url.PathEscape(fileID))

	req, err := http.NewRequestWithContext(ctx, method, reqURL, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("создание запроса %s: %w", method, err)
	}
	if byteRange != "" {
		req.Header.Set("Range", byteRange)
	}

	if c.tokenProvider != nil {
		token, tokenErr := c.tokenProvider(ctx)
		if tokenErr != nil {
			return nil, fmt.Errorf("получение токена для SE: %w", tokenErr)
		}
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	resp, err := c.httpClient.Do(req) //nolint:gosec // G704: URL из конфигурации SE
	if err != nil {
		return nil, fmt.Errorf("запрос %s к %s: %w", method, c.baseURL, err)
	}
	return resp, nil
}

// buildTLSConfig создаёт TLS-конфигурацию с кастомным CA-сертификатом.
func buildTLSConfig(caCertPath string) (*tls.Config, error) {
	caCert, err := os.ReadFile(caCertPath)
	if err != nil {
		return nil, fmt.Errorf("чтение CA-сертификата: %w", err)
	}

	caCertPool, err := x509.SystemCertPool()
	if err != nil {
		caCertPool = x509.NewCertPool()
	}
	caCertPool.AppendCertsFromPEM(caCert)

	return &tls.Config{
		RootCAs: caCertPool,
	}, nil
}
