// Package auth supplies bearer tokens for Microsoft Graph calls. The Graph
// client asks for a token on every request; caching lives here, behind the
// TokenProvider interface, so the request layer stays lock-free.
package auth

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/golang-jwt/jwt/v5"

	"github.com/brewtune/brewtune/internal/common"
)

// TokenProvider hands out a bearer token on demand.
type TokenProvider interface {
	Token(ctx context.Context) (string, error)
}

// expirySkew is subtracted from the token lifetime so a token is refreshed
// before it can expire mid-upload.
const expirySkew = 2 * time.Minute

// ServicePrincipal acquires tokens for a confidential client (tenant id,
// client id, client secret) via azidentity and caches them until expiry.
type ServicePrincipal struct {
	cred   *azidentity.ClientSecretCredential
	scopes []string

	mu      sync.Mutex
	token   string
	expires time.Time
}

// NewServicePrincipal builds a provider for the Graph default scope.
func NewServicePrincipal(tenantID, clientID, clientSecret string) (*ServicePrincipal, error) {
	cred, err := azidentity.NewClientSecretCredential(tenantID, clientID, clientSecret, nil)
	if err != nil {
		return nil, fmt.Errorf("creating client secret credential: %w", err)
	}
	return &ServicePrincipal{cred: cred, scopes: []string{common.GraphScope}}, nil
}

func (p *ServicePrincipal) Token(ctx context.Context) (string, error) {
	if p == nil || p.cred == nil {
		return "", common.ErrNotInitialized
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.token != "" && time.Now().Before(p.expires.Add(-expirySkew)) {
		return p.token, nil
	}

	tk, err := p.cred.GetToken(ctx, policy.TokenRequestOptions{Scopes: p.scopes})
	if err != nil {
		return "", fmt.Errorf("%w: %v", common.ErrNoToken, err)
	}

	p.token = tk.Token
	p.expires = tk.ExpiresOn
	if p.expires.IsZero() {
		if exp, err := TokenExpiry(tk.Token); err == nil {
			p.expires = exp
		}
	}
	return p.token, nil
}

// TokenExpiry reads the exp claim from a bearer token without verifying its
// signature. The token was just issued to us over TLS; we only need the
// lifetime, not proof of authenticity.
func TokenExpiry(token string) (time.Time, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}, err
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, fmt.Errorf("token has no exp claim")
	}
	return exp.Time, nil
}

// Static is a TokenProvider returning a fixed token. Used in tests and when
// the operator supplies a pre-acquired token.
type Static struct {
	Value string
}

func (s Static) Token(ctx context.Context) (string, error) {
	if s.Value == "" {
		return "", common.ErrNoToken
	}
	return s.Value, nil
}
