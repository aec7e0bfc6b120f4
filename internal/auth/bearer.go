package auth

import (
	"context"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/anthony/grpc-gateway/internal/apperr"
)

// RefresherTarget names the RPC that renews a BearerToken's access token.
type RefresherTarget struct {
	ServiceName string
	Method      string
}

// BearerToken is a JWT-style credential that refreshes lazily: a call that
// finds the token expired drives one refresher RPC through the gateway
// itself before attaching the header.
type BearerToken struct {
	HeaderNameValue string
	AccessToken     string
	RefreshToken    string
	ExpiresAtUnix   uint64
	Refresher       RefresherTarget

	log *zap.Logger

	// mu serializes refreshes of this credential: a second caller that
	// observes a refresh already in flight waits for it and reuses its
	// result instead of issuing a second refresher RPC.
	mu sync.Mutex
}

// NewBearerToken constructs a BearerToken. log may be nil.
func NewBearerToken(headerName, accessToken, refreshToken string, expiresAt uint64, target RefresherTarget, log *zap.Logger) *BearerToken {
	if log == nil {
		log = zap.NewNop()
	}
	return &BearerToken{
		HeaderNameValue: headerName,
		AccessToken:     accessToken,
		RefreshToken:    refreshToken,
		ExpiresAtUnix:   expiresAt,
		Refresher:       target,
		log:             log,
	}
}

func (b *BearerToken) HeaderName() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.HeaderNameValue
}

func (b *BearerToken) Value() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.AccessToken
}

// RefreshIfExpired refreshes the token when now is strictly not-before its
// expiry (now >= expires_at). The comparison is deliberately "now >=
// expires_at"; an earlier draft of this gateway used the inverted
// "now < expires_at", which refreshed tokens that had not expired yet and
// left truly expired ones untouched. That inversion is not reproduced here.
func (b *BearerToken) RefreshIfExpired(ctx context.Context, endpoint string, refresher Refresher) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := uint64(time.Now().Unix())
	if now < b.ExpiresAtUnix {
		return b.AccessToken, nil
	}

	result, err := refresher.RefreshToken(ctx, endpoint, b.Refresher.ServiceName, b.Refresher.Method, b.RefreshToken)
	if err != nil {
		return "", apperr.Wrap(apperr.Unauthorized, "token refresh failed", err)
	}

	b.AccessToken = result.AccessToken
	b.RefreshToken = result.RefreshToken
	b.ExpiresAtUnix = result.ExpiresAt
	b.logClaims(result.AccessToken)

	return b.AccessToken, nil
}

// logClaims opportunistically decodes the refreshed access token as a JWT
// purely for observability: the gateway does not issue these tokens and has
// no key to verify them against, and an opaque bearer token need not be a
// JWT at all, so a parse failure here is silent rather than fatal.
func (b *BearerToken) logClaims(token string) {
	parser := jwt.NewParser(jwt.WithoutClaimsValidation())
	claims := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		return
	}
	if exp, ok := claims["exp"]; ok {
		b.log.Debug("bearer token refreshed", zap.String("service", b.Refresher.ServiceName), zap.Any("jwt_exp_claim", exp))
	}
}
