// Пакет adminclient — получение SA-токена Hash Index через Admin Module.
// Токен используется для авторизации запросов к Storage Element
// при чтении содержимого файлов (HI_FILE_SOURCE=remote).
package adminclient

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"
)

// tokenRefreshMargin — запас до истечения токена, после которого он обновляется.
const tokenRefreshMargin = 30 * time.Second

// tokenInfo — закэшированный SA-токен с временем истечения.
type tokenInfo struct {
	accessToken string
	expiresAt   time.Time
}

// Client — клиент token endpoint Admin Module (client_credentials grant).
type Client struct {
	httpClient   *http.Client
	adminURL     string
	clientID     string
	clientSecret string //nolint:gosec // G101: поле структуры, не содержит секрет напрямую
	logger       *slog.Logger

	mu    sync.Mutex
	token *tokenInfo
}

// New создаёт клиент Admin Module.
// caCertPath — путь к CA-сертификату для TLS (пустая строка — стандартный пул).
func New(
	adminURL string,
	caCertPath string,
	timeout time.Duration,
	clientID string,
	clientSecret string,
	logger *slog.Logger,
) (*Client, error) {
	httpClient := &http.Client{Timeout: timeout}

	if caCertPath != "" {
		tlsConfig, err := buildTLSConfig(caCertPath)
		if err != nil {
			return nil, fmt.Errorf("загрузка CA-сертификата AM: %w", err)
		}
		httpClient.Transport = &http.Transport{TLSClientConfig: tlsConfig}
	}

	return &Client{
		httpClient:   httpClient,
		adminURL:     strings.TrimRight(adminURL, "/"),
		clientID:     clientID,
		clientSecret: clientSecret,
		logger:       logger.With(slog.String("component", "admin_client")),
	}, nil
}

// GetToken возвращает действующий SA-токен, запрашивая новый при истечении.
// Сигнатура совместима с seclient.TokenProvider.
func (c *Client) GetToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != nil && time.Now().Before(c.token.expiresAt) {
		return c.token.accessToken, nil
	}

	token, expiresIn, err := c.requestToken(ctx)
	if err != nil {
		return "", err
	}

	c.token = &tokenInfo{
		accessToken: token,
		expiresAt:   time.Now().Add(expiresIn - tokenRefreshMargin),
	}
	c.logger.Debug("SA-токен получен от AM",
		slog.Duration("expires_in", expiresIn),
	)
	return token, nil
}

// requestToken выполняет POST {adminURL}/auth/token.
func (c *Client) requestToken(ctx context.Context) (string, time.Duration, error) {
	data := url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {c.clientID},
		"client_secret": {c.clientSecret},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.adminURL+"/auth/token", strings.NewReader(data.Encode()))
	if err != nil {
		return "", 0, fmt.Errorf("создание запроса token: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req) //nolint:gosec // G704: URL из конфигурации
	if err != nil {
		return "", 0, fmt.Errorf("запрос token к AM: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", 0, fmt.Errorf("AM token endpoint вернул статус %d: %s", resp.StatusCode, string(body))
	}

	var tokenResp struct {
		Token     string `json:"access_token"` //nolint:gosec // G117: JSON-маппинг OAuth2 ответа
		ExpiresIn int    `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tokenResp); err != nil {
		return "", 0, fmt.Errorf("декодирование token response: %w", err)
	}
	if tokenResp.Token == "" {
		return "", 0, fmt.Errorf("пустой access_token в ответе AM")
	}

	return tokenResp.Token, time.Duration(tokenResp.ExpiresIn) * time.Second, nil
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

	return &tls.Config{RootCAs: caCertPool}, nil
}
