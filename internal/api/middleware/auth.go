// auth.go — JWT-аутентификация Hash Index по JWKS Keycloak.
// Токен сводится к Principal с набором прав: чтение (get, поиск) и запись
// (пересчёт, webhook). Права вычисляются один раз в middleware, обработчики
// проверяют их через Authorize.
package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/MicahParks/jwkset"
	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"

	apierrors "github.com/bigkaa/goartstore/hash-index/internal/api/errors"
)

// Permission — набор прав на операции с дайджестами (битовая маска).
type Permission uint8

const (
	// PermRead — GET /api/v1/files, GET /api/v1/files/{file_id}.
	PermRead Permission = 1 << iota
	// PermWrite — пересчёт дайджеста и POST /api/v1/events.
	PermWrite
)

// Has сообщает, входят ли все права need в p.
func (p Permission) Has(need Permission) bool {
	return need != 0 && p&need == need
}

func (p Permission) String() string {
	switch {
	case p.Has(PermRead | PermWrite):
		return "read+write"
	case p.Has(PermWrite):
		return "write"
	case p.Has(PermRead):
		return "read"
	default:
		return "none"
	}
}

// Роли realm_access и scopes Service Account, дающие права.
const (
	RoleAdmin       = "admin"
	RoleReadonly    = "readonly"
	ScopeFilesRead  = "files:read"
	ScopeFilesWrite = "files:write"
)

// rolePermissions — права пользователя по роли. admin получает оба права.
var rolePermissions = map[string]Permission{
	RoleAdmin:    PermRead | PermWrite,
	RoleReadonly: PermRead,
}

// scopePermissions — права Service Account по scope. Scopes независимы:
// files:write не даёт чтения.
var scopePermissions = map[string]Permission{
	ScopeFilesRead:  PermRead,
	ScopeFilesWrite: PermWrite,
}

// PrincipalKind — способ аутентификации субъекта.
type PrincipalKind string

const (
	// KindUser — пользователь (Authorization Code flow).
	KindUser PrincipalKind = "user"
	// KindServiceAccount — сервис (Client Credentials flow).
	KindServiceAccount PrincipalKind = "service_account"
)

// Principal — аутентифицированный субъект запроса.
type Principal struct {
	// Subject — sub из JWT
	Subject string
	Kind    PrincipalKind
	// Name — preferred_username пользователя или client_id сервиса (для логов)
	Name   string
	Grants Permission
}

// tokenClaims — claims Keycloak, влияющие на права.
type tokenClaims struct {
	jwt.RegisteredClaims
	PreferredUsername string `json:"preferred_username"`
	RealmAccess       struct {
		Roles []string `json:"roles"`
	} `json:"realm_access"`
	Groups   []string `json:"groups,omitempty"`
	Scope    string   `json:"scope,omitempty"`
	ClientID string   `json:"client_id,omitempty"`
}

// JWTAuth — проверка Bearer-токенов через JWKS Keycloak.
type JWTAuth struct {
	keys        keyfunc.Keyfunc
	parser      *jwt.Parser
	groupGrants map[string]Permission
	logger      *slog.Logger
}

// NewJWTAuth создаёт JWTAuth с фоновым обновлением JWKS.
// Пустой issuer не проверяется. adminGroups дают чтение и запись,
// readonlyGroups — только чтение. Старт не требует доступности Keycloak.
func NewJWTAuth(
	jwksURL string,
	caCertPath string,
	issuer string,
	adminGroups, readonlyGroups []string,
	jwksClientTimeout time.Duration,
	jwksRefreshInterval time.Duration,
	jwtLeeway time.Duration,
	logger *slog.Logger,
) (*JWTAuth, error) {
	client, err := newHTTPClient(caCertPath, jwksClientTimeout)
	if err != nil {
		return nil, fmt.Errorf("HTTP-клиент JWKS: %w", err)
	}

	storage, err := jwkset.NewStorageFromHTTP(jwksURL, jwkset.HTTPClientStorageOptions{
		Client:                    client,
		NoErrorReturnFirstHTTPReq: true,
		RefreshInterval:           jwksRefreshInterval,
		RefreshErrorHandler: func(_ context.Context, err error) {
			logger.Error("Ошибка обновления JWKS",
				slog.String("url", jwksURL),
				slog.String("error", err.Error()),
			)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("JWKS storage %s: %w", jwksURL, err)
	}

	keys, err := keyfunc.New(keyfunc.Options{Storage: storage})
	if err != nil {
		return nil, fmt.Errorf("keyfunc: %w", err)
	}
	return NewJWTAuthWithKeyfunc(keys, issuer, adminGroups, readonlyGroups, jwtLeeway, logger), nil
}

// NewJWTAuthWithKeyfunc создаёт JWTAuth с готовым источником ключей.
func NewJWTAuthWithKeyfunc(
	keys keyfunc.Keyfunc,
	issuer string,
	adminGroups, readonlyGroups []string,
	jwtLeeway time.Duration,
	logger *slog.Logger,
) *JWTAuth {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"RS256"}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(jwtLeeway),
	}
	if issuer != "" {
		opts = append(opts, jwt.WithIssuer(issuer))
	}

	groupGrants := make(map[string]Permission, len(adminGroups)+len(readonlyGroups))
	for _, g := range readonlyGroups {
		groupGrants[g] |= PermRead
	}
	for _, g := range adminGroups {
		groupGrants[g] |= PermRead | PermWrite
	}

	return &JWTAuth{
		keys:        keys,
		parser:      jwt.NewParser(opts...),
		groupGrants: groupGrants,
		logger:      logger.With(slog.String("component", "jwt_auth")),
	}
}

// Middleware проверяет Bearer-токен и кладёт Principal в контекст.
// Любая ошибка токена — 401; права проверяет Authorize.
func (j *JWTAuth) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, msg := bearerToken(r.Header.Get("Authorization"))
			if msg != "" {
				apierrors.Unauthorized(w, msg)
				return
			}

			claims := &tokenClaims{}
			if _, err := j.parser.ParseWithClaims(raw, claims, j.keys.KeyfuncCtx(r.Context())); err != nil {
				j.logger.Debug("Токен отклонён",
					slog.String("remote_addr", r.RemoteAddr),
					slog.String("error", err.Error()),
				)
				apierrors.Unauthorized(w, "Невалидный или просроченный токен")
				return
			}
			if claims.Subject == "" {
				apierrors.Unauthorized(w, "Отсутствует sub в токене")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), j.principal(claims))))
		})
	}
}

// bearerToken извлекает токен из заголовка Authorization.
// Непустое второе значение — причина отказа.
func bearerToken(header string) (token, reason string) {
	if header == "" {
		return "", "Отсутствует заголовок Authorization"
	}
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", "Неверный формат Authorization: ожидается Bearer <token>"
	}
	if token = strings.TrimSpace(token); token == "" {
		return "", "Пустой Bearer token"
	}
	return token, ""
}

// principal вычисляет права субъекта. Токен с client_id и scope — Service
// Account; права пользователя берутся из групп, а без подходящих групп из
// realm_access.roles.
func (j *JWTAuth) principal(c *tokenClaims) *Principal {
	if c.ClientID != "" && c.Scope != "" {
		p := &Principal{Subject: c.Subject, Kind: KindServiceAccount, Name: c.ClientID}
		for _, scope := range strings.Fields(c.Scope) {
			p.Grants |= scopePermissions[scope]
		}
		return p
	}

	p := &Principal{Subject: c.Subject, Kind: KindUser, Name: c.PreferredUsername}
	for _, g := range c.Groups {
		p.Grants |= j.groupGrants[g]
	}
	if p.Grants == 0 {
		for _, role := range c.RealmAccess.Roles {
			p.Grants |= rolePermissions[role]
		}
	}
	return p
}

// Authorize проверяет, что у субъекта запроса есть права need.
// При отказе пишет 401 (нет субъекта) или 403 и возвращает false.
func Authorize(w http.ResponseWriter, r *http.Request, need Permission) bool {
	p := PrincipalFromContext(r.Context())
	if p == nil {
		apierrors.Unauthorized(w, "Запрос не аутентифицирован")
		return false
	}
	if p.Grants.Has(need) {
		return true
	}

	var hint string
	switch p.Kind {
	case KindServiceAccount:
		hint = "scope " + ScopeFilesRead
		if need.Has(PermWrite) {
			hint = "scope " + ScopeFilesWrite
		}
	default:
		hint = "роль " + RoleAdmin + " или " + RoleReadonly
		if need.Has(PermWrite) {
			hint = "роль " + RoleAdmin
		}
	}
	apierrors.Forbidden(w, fmt.Sprintf("Недостаточно прав (%s): требуется %s", p.Grants, hint))
	return false
}

type principalKey struct{}

// WithPrincipal возвращает контекст с субъектом запроса.
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFromContext возвращает субъекта запроса или nil.
func PrincipalFromContext(ctx context.Context) *Principal {
	p, _ := ctx.Value(principalKey{}).(*Principal)
	return p
}

// SubjectFromContext возвращает sub субъекта или пустую строку.
func SubjectFromContext(ctx context.Context) string {
	if p := PrincipalFromContext(ctx); p != nil {
		return p.Subject
	}
	return ""
}
