package auth

import "context"

// APIKey is a static credential: it never refreshes.
type APIKey struct {
	HeaderNameValue string
	APIKeyValue     string
}

func (a *APIKey) HeaderName() string { return a.HeaderNameValue }
func (a *APIKey) Value() string      { return a.APIKeyValue }

// RefreshIfExpired is a no-op for API keys; it always returns the current
// value.
func (a *APIKey) RefreshIfExpired(_ context.Context, _ string, _ Refresher) (string, error) {
	return a.APIKeyValue, nil
}
