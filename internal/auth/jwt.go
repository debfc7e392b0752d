package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// userCtxKey is an unexported struct type rather than a string so no other
// package can collide with it by constructing the same context key.
type userCtxKey struct{}

// SetUserContext attaches verified claims to ctx for downstream handlers.
func SetUserContext(ctx context.Context, claims *Claims) context.Context {
	return context.WithValue(ctx, userCtxKey{}, claims)
}

// GetUserFromContext retrieves the claims AuthMiddleware attached, if any.
func GetUserFromContext(ctx context.Context) (*Claims, bool) {
	claims, ok := ctx.Value(userCtxKey{}).(*Claims)
	return claims, ok
}

// Claims is the set of fields this service trusts from a verified token.
// Token issuance and the OAuth authorization-code dance are handled by an
// upstream collaborator; this package only terminates an already-minted
// bearer token.
type Claims struct {
	UserID        int64  `json:"userId,string"`
	OAuthProvider string `json:"oauthProvider"`
	OAuthSub      string `json:"oauthSub"`
	jwt.RegisteredClaims
}

type JWTManager struct {
	secretKey     []byte
	tokenDuration time.Duration
}

func NewJWTManager(secretKey string, tokenDuration time.Duration) *JWTManager {
	return &JWTManager{
		secretKey:     []byte(secretKey),
		tokenDuration: tokenDuration,
	}
}

// Generate mints a token for local development and tests; it is never used
// on the request-serving path, which only verifies tokens issued upstream.
func (manager *JWTManager) Generate(userID int64, oauthProvider, oauthSub string) (string, error) {
	claims := &Claims{
		UserID:        userID,
		OAuthProvider: oauthProvider,
		OAuthSub:      oauthSub,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(manager.tokenDuration)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			NotBefore: jwt.NewNumericDate(time.Now()),
			Issuer:    "todosync-server",
			Subject:   strconv.FormatInt(userID, 10),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(manager.secretKey)
}

// Verify validates the JWT token and returns the claims
func (manager *JWTManager) Verify(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(
		tokenString,
		&Claims{},
		func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return manager.secretKey, nil
		},
	)

	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token claims")
	}
	if claims.UserID == 0 {
		return nil, errors.New("token missing userId claim")
	}

	return claims, nil
}

// ExtractTokenFromHeader extracts JWT token from Authorization header
func ExtractTokenFromHeader(r *http.Request) (string, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return "", errors.New("authorization header missing")
	}

	const bearerPrefix = "Bearer "
	if !strings.HasPrefix(authHeader, bearerPrefix) {
		return "", errors.New("invalid authorization header format")
	}

	return strings.TrimPrefix(authHeader, bearerPrefix), nil
}

// AuthMiddleware creates HTTP middleware for JWT authentication. Unlike a
// WebSocket relay, this service never needs a query-string fallback: every
// client here is a headless sync client that can set an Authorization
// header.
func (manager *JWTManager) AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, err := ExtractTokenFromHeader(r)
		if err != nil {
			http.Error(w, "Unauthorized: "+err.Error(), http.StatusUnauthorized)
			return
		}

		claims, err := manager.Verify(token)
		if err != nil {
			http.Error(w, "Unauthorized: "+err.Error(), http.StatusUnauthorized)
			return
		}

		ctx := SetUserContext(r.Context(), claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GenerateTestToken mints a token for a fixed test identity; used only by
// local tooling and tests, never by the request-serving path.
func (manager *JWTManager) GenerateTestToken() (string, error) {
	return manager.Generate(1, "test-provider", "test-subject")
}