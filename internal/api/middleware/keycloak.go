package middleware

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/MicahParks/jwkset"
)

// Статусы проверки готовности Keycloak.
const (
	statusOK       = "ok"
	statusDegraded = "degraded"
	statusFail     = "fail"
)

// KeycloakReadinessChecker проверяет, что JWKS Keycloak отдаёт ключи:
// без них ни один токен не пройдёт проверку.
type KeycloakReadinessChecker struct {
	jwksURL string
	client  *http.Client
	timeout time.Duration
}

// NewKeycloakReadinessChecker создаёт checker JWKS endpoint.
func NewKeycloakReadinessChecker(jwksURL, caCertPath string, timeout time.Duration) (*KeycloakReadinessChecker, error) {
	client, err := newHTTPClient(caCertPath, timeout)
	if err != nil {
		return nil, fmt.Errorf("HTTP-клиент readiness Keycloak: %w", err)
	}
	return &KeycloakReadinessChecker{jwksURL: jwksURL, client: client, timeout: timeout}, nil
}

// CheckReady запрашивает JWKS: недоступность — fail, ответ без ключей — degraded.
func (k *KeycloakReadinessChecker) CheckReady() (status, message string) {
	ctx, cancel := context.WithTimeout(context.Background(), k.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, k.jwksURL, http.NoBody)
	if err != nil {
		return statusFail, "запрос JWKS: " + err.Error()
	}
	resp, err := k.client.Do(req) //nolint:gosec // G704: URL из конфигурации Keycloak
	if err != nil {
		return statusFail, fmt.Sprintf("Keycloak JWKS недоступен: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return statusFail, fmt.Sprintf("Keycloak JWKS вернул статус %d", resp.StatusCode)
	}

	var set jwkset.JWKSMarshal
	if err := json.NewDecoder(resp.Body).Decode(&set); err != nil {
		return statusDegraded, fmt.Sprintf("Keycloak JWKS: невалидный JSON: %v", err)
	}
	if len(set.Keys) == 0 {
		return statusDegraded, "Keycloak JWKS: нет ключей"
	}
	return statusOK, fmt.Sprintf("JWKS доступен, ключей: %d", len(set.Keys))
}

// newHTTPClient создаёт HTTP-клиент; caCertPath добавляет CA к системному пулу.
func newHTTPClient(caCertPath string, timeout time.Duration) (*http.Client, error) {
	client := &http.Client{Timeout: timeout}
	if caCertPath == "" {
		return client, nil
	}

	pem, err := os.ReadFile(caCertPath)
	if err != nil {
		return nil, fmt.Errorf("чтение CA-сертификата %s: %w", caCertPath, err)
	}
	pool, err := x509.SystemCertPool()
	if err != nil {
		pool = x509.NewCertPool()
	}
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("CA-сертификат %s не содержит PEM-сертификатов", caCertPath)
	}
	client.Transport = &http.Transport{TLSClientConfig: &tls.Config{RootCAs: pool}}
	return client, nil
}
