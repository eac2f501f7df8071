// Package auth resolves bearer tokens against the external auth service.
package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"storefront-service/internal/apperr"
)

// Identity is the resolved owner of a request.
type Identity struct {
	UserID  int64 `json:"user_id"`
	IsAdmin bool  `json:"is_admin"`
}

// Resolver turns a bearer token into an identity.
type Resolver interface {
	Resolve(ctx context.Context, token string) (*Identity, error)
}

// HTTPResolver verifies tokens against the auth collaborator's verify
// endpoint with a bounded timeout.
type HTTPResolver struct {
	verifyURL string
	client    *http.Client
}

func NewHTTPResolver(verifyURL string, timeout time.Duration) *HTTPResolver {
	return &HTTPResolver{
		verifyURL: verifyURL,
		client:    &http.Client{Timeout: timeout},
	}
}

func (r *HTTPResolver) Resolve(ctx context.Context, token string) (*Identity, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.verifyURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, apperr.Upstream("auth service unreachable", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		var identity Identity
		if err := json.NewDecoder(resp.Body).Decode(&identity); err != nil {
			return nil, apperr.Upstream("auth service returned malformed identity", err)
		}
		return &identity, nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, apperr.Authf("invalid token")
	default:
		return nil, apperr.Upstream(fmt.Sprintf("auth service returned status %d", resp.StatusCode), nil)
	}
}

var _ Resolver = (*HTTPResolver)(nil)
