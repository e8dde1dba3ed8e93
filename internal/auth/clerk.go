package auth

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/coreos/go-oidc/v3/oidc"
)

var (
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrMissingIdentity = errors.New("token missing subject")
)

// Identity is the caller resolved from a Clerk session token.
type Identity struct {
	UserID string
	Email  string
	Name   string
}

// ClerkVerifier validates Clerk-issued session JWTs against the issuer's JWKS.
type ClerkVerifier struct {
	verifier *oidc.IDTokenVerifier
	audience string
}

// NewClerkVerifier performs OIDC discovery against the Clerk frontend API.
func NewClerkVerifier(ctx context.Context, issuer, audience string) (*ClerkVerifier, error) {
	provider, err := oidc.NewProvider(ctx, strings.TrimRight(issuer, "/"))
	if err != nil {
		return nil, fmt.Errorf("discover clerk issuer: %w", err)
	}
	return &ClerkVerifier{
		verifier: provider.Verifier(&oidc.Config{SkipClientIDCheck: true}),
		audience: audience,
	}, nil
}

func NewClerkVerifierWithKeySet(issuer, audience string, keySet oidc.KeySet) *ClerkVerifier {
	return &ClerkVerifier{
		verifier: oidc.NewVerifier(issuer, keySet, &oidc.Config{SkipClientIDCheck: true}),
		audience: audience,
	}
}

func (v *ClerkVerifier) Verify(ctx context.Context, token string) (Identity, error) {
	if strings.TrimSpace(token) == "" {
		return Identity{}, ErrUnauthenticated
	}
	idToken, err := v.verifier.Verify(ctx, token)
	if err != nil {
		return Identity{}, errors.Join(ErrUnauthenticated, err)
	}

	// Clerk session tokens carry the frontend origin in azp rather than aud.
	var claims struct {
		Sub       string `json:"sub"`
		Azp       string `json:"azp"`
		Email     string `json:"email"`
		Name      string `json:"name"`
		FirstName string `json:"first_name"`
		LastName  string `json:"last_name"`
	}
	if err := idToken.Claims(&claims); err != nil {
		return Identity{}, errors.Join(ErrUnauthenticated, err)
	}
	if claims.Sub == "" {
		return Identity{}, ErrMissingIdentity
	}
	if v.audience != "" && claims.Azp != v.audience && !slices.Contains(idToken.Audience, v.audience) {
		return Identity{}, fmt.Errorf("%w: unexpected audience", ErrUnauthenticated)
	}

	name := claims.Name
	if name == "" {
		name = strings.TrimSpace(claims.FirstName + " " + claims.LastName)
	}
	return Identity{UserID: claims.Sub, Email: claims.Email, Name: name}, nil
}
