// Package auth models the gateway's closed set of credential variants. The
// universe of credentials is small and known in advance, so this is a
// tagged sum with a small capability set rather than an open trait
// hierarchy: HeaderName, Value, and RefreshIfExpired.
package auth

import "context"

// Credential attaches to outgoing requests against one upstream.
type Credential interface {
	// HeaderName is where the credential should be attached.
	HeaderName() string
	// Value is the exact header value to attach.
	Value() string
	// RefreshIfExpired refreshes the credential if it has expired,
	// returning the access token to use. endpoint identifies the upstream
	// the credential is attached to (used to route the refresher RPC for
	// BearerToken). API-key credentials never refresh and return Value().
	RefreshIfExpired(ctx context.Context, endpoint string, refresher Refresher) (string, error)
}

// Refresher performs the gRPC call that renews a BearerToken. It is
// satisfied by the invocation engine so the auth layer can refresh a token
// "through the gateway itself" without importing the gateway package
// (which imports auth) and creating a cycle.
type Refresher interface {
	RefreshToken(ctx context.Context, endpoint, service, method string, refreshToken string) (RefreshResult, error)
}

// RefreshResult is the refresher's parsed response.
type RefreshResult struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    uint64
}
