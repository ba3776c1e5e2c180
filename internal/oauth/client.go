// Package oauth exchanges an RPC authorization code for an access token.
package oauth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"

	logs "github.com/danmuck/mutectl/internal/logging"
)

const (
	DefaultTokenURL    = "https://discord.com/api/oauth2/token"
	DefaultRedirectURI = "http://localhost"
)

var (
	ErrCodeRequired     = errors.New("oauth: authorization code required")
	ErrClientIDRequired = errors.New("oauth: client_id required")
	ErrExchangeRejected = errors.New("oauth: token exchange rejected")
)

type Config struct {
	TokenURL     string
	ClientID     string
	ClientSecret string
	RedirectURI  string
	Timeout      time.Duration
}

func DefaultConfig() Config {
	return Config{
		TokenURL:    DefaultTokenURL,
		RedirectURI: DefaultRedirectURI,
		Timeout:     10 * time.Second,
	}
}

// Token is the subset of the token endpoint's success body the client keeps.
type Token struct {
	AccessToken  string
	TokenType    string
	ExpiresIn    int64
	RefreshToken string
	Scope        string
}

type Client struct {
	cfg    Config
	http   *http.Client
	oauth2 oauth2.Config
}

// NewClient builds a token client. A nil httpClient gets one bounded by
// cfg.Timeout.
func NewClient(cfg Config, httpClient *http.Client) *Client {
	def := DefaultConfig()
	if strings.TrimSpace(cfg.TokenURL) == "" {
		cfg.TokenURL = def.TokenURL
	}
	if strings.TrimSpace(cfg.RedirectURI) == "" {
		cfg.RedirectURI = def.RedirectURI
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	return &Client{
		cfg:  cfg,
		http: httpClient,
		oauth2: oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURI,
			Endpoint: oauth2.Endpoint{
				TokenURL:  cfg.TokenURL,
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
	}
}

// Exchange posts the authorization_code grant and returns the issued token.
func (c *Client) Exchange(ctx context.Context, code string) (Token, error) {
	if strings.TrimSpace(code) == "" {
		return Token{}, ErrCodeRequired
	}
	if strings.TrimSpace(c.cfg.ClientID) == "" {
		return Token{}, ErrClientIDRequired
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.http)
	// Older RPC apps registered redirect_url; send both spellings.
	tok, err := c.oauth2.Exchange(ctx, code, oauth2.SetAuthURLParam("redirect_url", c.cfg.RedirectURI))
	if err != nil {
		var re *oauth2.RetrieveError
		if errors.As(err, &re) {
			status := 0
			if re.Response != nil {
				status = re.Response.StatusCode
			}
			logs.Warnf("oauth.Exchange status=%d error=%q description=%q", status, re.ErrorCode, re.ErrorDescription)
			return Token{}, fmt.Errorf("%w: status=%d error=%q description=%q", ErrExchangeRejected, status, re.ErrorCode, re.ErrorDescription)
		}
		return Token{}, fmt.Errorf("oauth: exchange: %w", err)
	}

	out := Token{
		AccessToken:  tok.AccessToken,
		TokenType:    tok.TokenType,
		RefreshToken: tok.RefreshToken,
	}
	if !tok.Expiry.IsZero() {
		out.ExpiresIn = int64(time.Until(tok.Expiry).Round(time.Second) / time.Second)
	}
	if scope, ok := tok.Extra("scope").(string); ok {
		out.Scope = scope
	}
	logs.Debugf("oauth.Exchange issued token_type=%s scope=%q expires_in=%d", out.TokenType, out.Scope, out.ExpiresIn)
	return out, nil
}
