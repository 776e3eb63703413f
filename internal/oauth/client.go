// Package oauth talks to external identity providers: authorization
// redirect, PKCE, code exchange and userinfo retrieval.
package oauth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/skylog-io/skylog/internal/config"
	"github.com/skylog-io/skylog/internal/identity"
)

// Client handles one configured provider.
type Client struct {
	name       string
	cfg        config.ProviderConfig
	endpoints  endpoints
	httpClient *http.Client
}

type endpoints struct {
	Authorization string
	Token         string
	UserInfo      string
}

// discovery holds OIDC provider metadata from .well-known/openid-configuration.
type discovery struct {
	Issuer                string `json:"issuer"`
	AuthorizationEndpoint string `json:"authorization_endpoint"`
	TokenEndpoint         string `json:"token_endpoint"`
	UserinfoEndpoint      string `json:"userinfo_endpoint"`
}

// NewClient builds a client for one provider. Providers with an issuer go
// through OIDC discovery; the rest use the explicitly configured endpoints.
func NewClient(cfg config.ProviderConfig) (*Client, error) {
	c := &Client{
		name: cfg.Name,
		cfg:  cfg,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}

	if cfg.Issuer != "" {
		if err := c.discover(); err != nil {
			return nil, fmt.Errorf("oauth: %s discovery failed: %w", cfg.Name, err)
		}
		return c, nil
	}

	if cfg.AuthURL == "" || cfg.TokenURL == "" || cfg.UserInfoURL == "" {
		return nil, fmt.Errorf("oauth: provider %s has neither an issuer nor explicit endpoints", cfg.Name)
	}
	c.endpoints = endpoints{
		Authorization: cfg.AuthURL,
		Token:         cfg.TokenURL,
		UserInfo:      cfg.UserInfoURL,
	}
	return c, nil
}

// Name returns the provider name this client is bound to.
func (c *Client) Name() string {
	return c.name
}

func (c *Client) discover() error {
	discoveryURL := strings.TrimSuffix(c.cfg.Issuer, "/") + "/.well-known/openid-configuration"

	resp, err := c.httpClient.Get(discoveryURL)
	if err != nil {
		return fmt.Errorf("failed to fetch discovery document: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("discovery endpoint returned status %d: %s", resp.StatusCode, string(body))
	}

	var doc discovery
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return fmt.Errorf("failed to decode discovery document: %w", err)
	}
	if doc.AuthorizationEndpoint == "" || doc.TokenEndpoint == "" || doc.UserinfoEndpoint == "" {
		return fmt.Errorf("discovery document missing required endpoints")
	}

	c.endpoints = endpoints{
		Authorization: doc.AuthorizationEndpoint,
		Token:         doc.TokenEndpoint,
		UserInfo:      doc.UserinfoEndpoint,
	}
	return nil
}

// GenerateState generates a random state parameter for CSRF protection.
func GenerateState() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate state: %w", err)
	}
	return base64.URLEncoding.EncodeToString(b), nil
}

// GenerateCodeVerifier generates a PKCE code verifier.
func GenerateCodeVerifier() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate code verifier: %w", err)
	}
	return base64.URLEncoding.WithPadding(base64.NoPadding).EncodeToString(b), nil
}

// GenerateCodeChallenge derives the S256 challenge from a verifier.
func GenerateCodeChallenge(verifier string) string {
	h := sha256.Sum256([]byte(verifier))
	return base64.URLEncoding.WithPadding(base64.NoPadding).EncodeToString(h[:])
}

// AuthorizationURL returns the provider's authorization URL with PKCE.
func (c *Client) AuthorizationURL(state, codeChallenge, redirectURL string) string {
	params := url.Values{}
	params.Set("client_id", c.cfg.ClientID)
	params.Set("response_type", "code")
	params.Set("redirect_uri", redirectURL)
	params.Set("scope", strings.Join(c.cfg.Scopes, " "))
	params.Set("state", state)
	params.Set("code_challenge", codeChallenge)
	params.Set("code_challenge_method", "S256")

	return c.endpoints.Authorization + "?" + params.Encode()
}

// ExchangeCode exchanges an authorization code for the provider's access
// token.
func (c *Client) ExchangeCode(ctx context.Context, code, codeVerifier, redirectURL string) (string, error) {
	data := url.Values{}
	data.Set("grant_type", "authorization_code")
	data.Set("code", code)
	data.Set("redirect_uri", redirectURL)
	data.Set("client_id", c.cfg.ClientID)
	data.Set("client_secret", c.cfg.ClientSecret)
	data.Set("code_verifier", codeVerifier)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoints.Token, strings.NewReader(data.Encode()))
	if err != nil {
		return "", fmt.Errorf("failed to create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	// github answers form-encoded unless asked for JSON
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("token exchange request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("token exchange failed with status %d: %s", resp.StatusCode, string(body))
	}

	var result struct {
		AccessToken string `json:"access_token"`
		TokenType   string `json:"token_type"`
		IDToken     string `json:"id_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("failed to decode token response: %w", err)
	}
	if result.AccessToken == "" {
		return "", fmt.Errorf("token response missing access_token")
	}
	return result.AccessToken, nil
}

// Identity fetches the provider's userinfo and maps it to an assertion.
// Field names differ between OIDC providers and github's user API, so both
// sets are accepted.
func (c *Client) Identity(ctx context.Context, accessToken string) (*identity.Assertion, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoints.UserInfo, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create userinfo request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("userinfo request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("userinfo request failed with status %d: %s", resp.StatusCode, string(body))
	}

	var info struct {
		Sub           string      `json:"sub"`
		ID            json.Number `json:"id"`
		Email         string      `json:"email"`
		EmailVerified bool        `json:"email_verified"`
		Name          string      `json:"name"`
		Login         string      `json:"login"`
		Picture       string      `json:"picture"`
		AvatarURL     string      `json:"avatar_url"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, fmt.Errorf("failed to decode userinfo response: %w", err)
	}

	subject := info.Sub
	if subject == "" {
		subject = info.ID.String()
	}
	if subject == "" || subject == "0" {
		return nil, fmt.Errorf("userinfo response missing subject")
	}
	if info.Email == "" {
		return nil, fmt.Errorf("userinfo response missing email")
	}

	name := info.Name
	if name == "" {
		name = info.Login
	}
	picture := info.Picture
	if picture == "" {
		picture = info.AvatarURL
	}

	return &identity.Assertion{
		Provider: c.name,
		Subject:  subject,
		Email:    info.Email,
		Name:     name,
		Picture:  picture,
		Verified: info.EmailVerified || c.cfg.Issuer != "",
	}, nil
}
