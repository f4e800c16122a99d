package auth

import (
	"context"
	"fmt"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"

	"github.com/sylvia-iot/controlplane/internal/config"
)

// FederatedUserInfo is the identity claims pulled from an OIDC
// provider's userinfo endpoint after a successful code exchange.
type FederatedUserInfo struct {
	Subject string
	Email   string
	Name    string
}

// federatedProvider wraps one configured OIDC issuer; unlike the
// teacher's Provider interface (which also covered a bare-OAuth2,
// non-OIDC branch for GitHub-style providers), federated login here
// always goes through OIDC discovery — SPEC_FULL.md's identity model
// has no non-OIDC federated-login requirement.
type federatedProvider struct {
	oauthConfig *oauth2.Config
	verifier    *oidc.IDTokenVerifier
}

func newFederatedProvider(ctx context.Context, cfg config.OIDCProvider) (*federatedProvider, error) {
	provider, err := oidc.NewProvider(ctx, cfg.IssuerURL)
	if err != nil {
		return nil, fmt.Errorf("auth: failed to discover OIDC provider %s: %w", cfg.IssuerURL, err)
	}

	oauthConfig := &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		RedirectURL:  cfg.RedirectURL,
		Endpoint:     provider.Endpoint(),
		Scopes:       append([]string{oidc.ScopeOpenID}, cfg.Scopes...),
	}

	return &federatedProvider{
		oauthConfig: oauthConfig,
		verifier:    provider.Verifier(&oidc.Config{ClientID: cfg.ClientID}),
	}, nil
}

func (p *federatedProvider) authURL(state string) string {
	return p.oauthConfig.AuthCodeURL(state)
}

func (p *federatedProvider) exchange(ctx context.Context, code string) (*FederatedUserInfo, error) {
	token, err := p.oauthConfig.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("auth: failed to exchange federated code: %w", err)
	}

	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok {
		return nil, fmt.Errorf("auth: federated token response has no id_token")
	}
	idToken, err := p.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return nil, fmt.Errorf("auth: failed to verify federated id_token: %w", err)
	}

	var claims struct {
		Subject string `json:"sub"`
		Email   string `json:"email"`
		Name    string `json:"name"`
	}
	if err := idToken.Claims(&claims); err != nil {
		return nil, fmt.Errorf("auth: failed to parse federated claims: %w", err)
	}

	return &FederatedUserInfo{Subject: claims.Subject, Email: claims.Email, Name: claims.Name}, nil
}