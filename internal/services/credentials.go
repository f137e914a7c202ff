package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/ytup/internal/shared"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

// CredentialProvider supplies bearer tokens to the transport.
type CredentialProvider interface {
	// Token returns a currently valid token, refreshing it when needed.
	Token() (*oauth2.Token, error)
	// Reject tells the provider the remote refused its last token.
	Reject(err error)
}

// tokenNotifyFunc is called when a token event happens.
type tokenNotifyFunc func(*oauth2.Token) error

// TokenCredentials wraps an [oauth2.TokenSource], persisting refreshed tokens
// through OnRefresh and reporting rejections through OnRejected.
type TokenCredentials struct {
	mu   sync.Mutex
	src  oauth2.TokenSource
	curr *oauth2.Token

	// OnRefresh is called whenever the underlying token changes.
	OnRefresh tokenNotifyFunc
	// OnRejected is called when the transport sees an authentication rejection.
	OnRejected func(error)
}

// NewTokenCredentials creates credentials from an OAuth2 config and a saved token.
func NewTokenCredentials(ctx context.Context, cfg *oauth2.Config, tok *oauth2.Token, onRefresh tokenNotifyFunc) *TokenCredentials {
	return &TokenCredentials{
		src:       cfg.TokenSource(ctx, tok),
		curr:      tok,
		OnRefresh: onRefresh,
	}
}

// StaticCredentials returns credentials that always hand out tok.
func StaticCredentials(tok *oauth2.Token) *TokenCredentials {
	return &TokenCredentials{src: oauth2.StaticTokenSource(tok), curr: tok}
}

// Token implements [CredentialProvider].
func (c *TokenCredentials) Token() (*oauth2.Token, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	tok, err := c.src.Token()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", shared.ErrRefreshFailed, err)
	}

	if c.curr == nil || tok.AccessToken != c.curr.AccessToken {
		c.curr = tok
		if c.OnRefresh != nil {
			if err := c.OnRefresh(tok); err != nil {
				return nil, fmt.Errorf("token refresh callback failed: %w", err)
			}
		}
	}

	return tok, nil
}

// Reject implements [CredentialProvider].
func (c *TokenCredentials) Reject(err error) {
	if c.OnRejected != nil {
		c.OnRejected(err)
	}
}

// TokenSource exposes the credentials as an [oauth2.TokenSource] for API clients.
func (c *TokenCredentials) TokenSource() oauth2.TokenSource {
	return tokenSourceFunc(c.Token)
}

type tokenSourceFunc func() (*oauth2.Token, error)

func (f tokenSourceFunc) Token() (*oauth2.Token, error) { return f() }

// OAuthConfig builds the Google OAuth2 client config.
func OAuthConfig(cfg shared.GoogleConfig) (*oauth2.Config, error) {
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, fmt.Errorf("%w: credentials.google client_id and client_secret are required", shared.ErrMissingCredentials)
	}

	return &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		RedirectURL:  cfg.RedirectURI,
		Scopes:       cfg.Scopes,
		Endpoint:     google.Endpoint,
	}, nil
}

// LoadToken reads a token saved by [SaveToken].
func LoadToken(path string) (*oauth2.Token, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: no token at %s, run `ytup auth login`", shared.ErrNotAuthenticated, path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read token: %w", err)
	}

	var tok oauth2.Token
	if err := json.Unmarshal(data, &tok); err != nil {
		return nil, fmt.Errorf("%w: failed to parse token: %v", shared.ErrInvalidCredentials, err)
	}
	if tok.RefreshToken == "" && !tok.Valid() {
		return nil, fmt.Errorf("%w: token at %s", shared.ErrNoRefreshToken, path)
	}
	return &tok, nil
}

// SaveToken writes tok as JSON with owner-only permissions.
func SaveToken(path string, tok *oauth2.Token) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("failed to create token directory: %w", err)
	}

	data, err := json.MarshalIndent(tok, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode token: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("failed to write token: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to save token: %w", err)
	}
	return nil
}

// NewFileCredentials loads the saved token and returns credentials that write refreshed tokens back to disk.
func NewFileCredentials(ctx context.Context, cfg shared.GoogleConfig, logger *log.Logger) (*TokenCredentials, error) {
	oauthCfg, err := OAuthConfig(cfg)
	if err != nil {
		return nil, err
	}

	tok, err := LoadToken(cfg.TokenPath)
	if err != nil {
		return nil, err
	}

	creds := NewTokenCredentials(ctx, oauthCfg, tok, func(t *oauth2.Token) error {
		logger.Debug("access token refreshed", "expiry", t.Expiry)
		return SaveToken(cfg.TokenPath, t)
	})
	creds.OnRejected = func(err error) {
		logger.Error("credentials rejected by YouTube, re-run `ytup auth login`", "error", err)
	}
	return creds, nil
}
