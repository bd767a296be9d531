// Package credentials exchanges stored Salesforce credentials for an access
// token and the instance URL that token is bound to.
//
// Two OAuth2 grants are supported, the username-password flow and the
// refresh-token flow. Both satisfy Fetcher so the streaming client never
// needs to know which one it was handed.
package credentials

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"golang.org/x/oauth2"
)

const (
	loginURL   = "https://login.salesforce.com/services/oauth2/token"
	sandboxURL = "https://test.salesforce.com/services/oauth2/token"

	bearerType     = "Bearer"
	instanceURLKey = "instance_url"
)

// Token is an access token together with the instance it grants access to
type Token struct {
	AccessToken string
	InstanceURL string
}

// Fetcher retrieves a fresh Token
type Fetcher interface {
	FetchToken(ctx context.Context) (Token, error)
}

// Config holds the settings shared by every grant
type Config struct {
	// ClientID is the consumer key of the connected app
	ClientID string
	// ClientSecret is the consumer secret of the connected app
	ClientSecret string
	// Sandbox selects https://test.salesforce.com instead of
	// https://login.salesforce.com
	Sandbox bool
	// TokenURL overrides the token endpoint derived from Sandbox
	TokenURL string
	// HTTPClient is used for the token exchange. http.DefaultClient is used
	// when nil.
	HTTPClient *http.Client
}

// Endpoint returns the token endpoint this configuration talks to
func (c Config) Endpoint() string {
	switch {
	case c.TokenURL != "":
		return c.TokenURL
	case c.Sandbox:
		return sandboxURL
	default:
		return loginURL
	}
}

func (c Config) validate() error {
	if c.ClientID == "" {
		return &CredentialError{Field: "client_id"}
	}
	if c.ClientSecret == "" {
		return &CredentialError{Field: "client_secret"}
	}
	return nil
}

func (c Config) oauth2Config() *oauth2.Config {
	return &oauth2.Config{
		ClientID:     c.ClientID,
		ClientSecret: c.ClientSecret,
		Endpoint: oauth2.Endpoint{
			TokenURL:  c.Endpoint(),
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
}

func (c Config) context(ctx context.Context) context.Context {
	if c.HTTPClient == nil {
		return ctx
	}
	return context.WithValue(ctx, oauth2.HTTPClient, c.HTTPClient)
}

// Password implements the OAuth2 username-password grant
type Password struct {
	config   Config
	username string
	password string
}

// NewPassword validates the given credentials and returns a Fetcher using
// the password grant
func NewPassword(config Config, username, password string) (*Password, error) {
	if err := config.validate(); err != nil {
		return nil, err
	}
	if username == "" {
		return nil, &CredentialError{Field: "username"}
	}
	if password == "" {
		return nil, &CredentialError{Field: "password"}
	}
	return &Password{config: config, username: username, password: password}, nil
}

// FetchToken implements the Fetcher interface
func (p *Password) FetchToken(ctx context.Context) (Token, error) {
	tok, err := p.config.oauth2Config().PasswordCredentialsToken(p.config.context(ctx), p.username, p.password)
	if err != nil {
		return Token{}, fmt.Errorf("password grant: %w", err)
	}
	return fromOAuth2(tok)
}

// RefreshToken implements the OAuth2 refresh-token grant
type RefreshToken struct {
	config       Config
	refreshToken string
}

// NewRefreshToken validates the given credentials and returns a Fetcher
// using the refresh-token grant
func NewRefreshToken(config Config, refreshToken string) (*RefreshToken, error) {
	if err := config.validate(); err != nil {
		return nil, err
	}
	if refreshToken == "" {
		return nil, &CredentialError{Field: "refresh_token"}
	}
	return &RefreshToken{config: config, refreshToken: refreshToken}, nil
}

// FetchToken implements the Fetcher interface
func (r *RefreshToken) FetchToken(ctx context.Context) (Token, error) {
	// A token holding only a refresh token is never valid, so the source
	// always performs the refresh_token exchange.
	src := r.config.oauth2Config().TokenSource(r.config.context(ctx), &oauth2.Token{RefreshToken: r.refreshToken})
	tok, err := src.Token()
	if err != nil {
		return Token{}, fmt.Errorf("refresh token grant: %w", err)
	}
	return fromOAuth2(tok)
}

// Static hands out a token obtained elsewhere, for example from the
// Salesforce CLI
type Static struct {
	Token Token
}

// FetchToken implements the Fetcher interface
func (s *Static) FetchToken(context.Context) (Token, error) {
	if s.Token.AccessToken == "" {
		return Token{}, &CredentialError{Field: "access_token"}
	}
	if s.Token.InstanceURL == "" {
		return Token{}, &CredentialError{Field: "instance_url"}
	}
	return s.Token, nil
}

func fromOAuth2(tok *oauth2.Token) (Token, error) {
	if !strings.EqualFold(tok.TokenType, bearerType) {
		return Token{}, UnexpectedTokenTypeError(tok.TokenType)
	}
	instanceURL, _ := tok.Extra(instanceURLKey).(string)
	if instanceURL == "" {
		return Token{}, ErrMissingInstanceURL
	}
	if tok.AccessToken == "" {
		return Token{}, ErrMissingAccessToken
	}
	return Token{AccessToken: tok.AccessToken, InstanceURL: strings.TrimSuffix(instanceURL, "/")}, nil
}
