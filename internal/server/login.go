package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/ytup/internal/shared"
	"golang.org/x/oauth2"
)

// LoginOptions configures [Login].
type LoginOptions struct {
	Config *oauth2.Config
	// Addr is the callback listen address; port 0 picks a free port.
	Addr string
	// Open presents the consent URL, usually [shared.OpenBrowser].
	Open    func(url string) error
	Timeout time.Duration
	Logger  *log.Logger
}

// Login runs the loopback authorization flow: it serves the callback on opts.Addr,
// opens the consent page and waits for the token.
//
// The redirect URL is rewritten to the bound address, so the path of the configured
// redirect URI is kept but its host and port are not.
func Login(ctx context.Context, opts LoginOptions) (*oauth2.Token, error) {
	if opts.Config == nil {
		return nil, fmt.Errorf("%w: oauth config", shared.ErrMissingArgument)
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 2 * time.Minute
	}
	if opts.Logger == nil {
		opts.Logger = shared.NewLogger(nil)
	}
	if opts.Open == nil {
		opts.Open = shared.OpenBrowser
	}

	ln, err := net.Listen("tcp", opts.Addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", opts.Addr, err)
	}

	cfg := *opts.Config
	cfg.RedirectURL = "http://" + ln.Addr().String() + callbackPath(opts.Config.RedirectURL)

	handler := NewOAuthHandler(&cfg)
	router := NewBasicRouter()
	router.Use(RequestLogger(opts.Logger))
	router.Handler(handler)

	srv := &http.Server{Handler: router, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			opts.Logger.Error("callback server failed", "error", err)
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	authURL := handler.AuthCodeURL()
	opts.Logger.Info("waiting for authorization", "callback", cfg.RedirectURL)
	if err := opts.Open(authURL); err != nil {
		opts.Logger.Warn("could not open browser, visit the URL manually", "url", authURL, "error", err)
	}

	select {
	case result, ok := <-handler.Result():
		if !ok {
			return nil, errNoToken
		}
		if err := result.Error(); err != nil {
			return nil, err
		}
		return result.Token, nil
	case <-time.After(opts.Timeout):
		return nil, fmt.Errorf("%w: no callback after %s", shared.ErrTimeout, opts.Timeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
