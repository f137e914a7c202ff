package main

import (
	"context"
	"fmt"
	"time"

	"github.com/desertthunder/ytup/internal/server"
	"github.com/desertthunder/ytup/internal/services"
	"github.com/urfave/cli/v3"
)

// AuthLogin runs the browser authorization flow and saves the token to credentials.google.token_path.
func (r *Runner) AuthLogin(ctx context.Context, cmd *cli.Command) error {
	google := r.config.Credentials.Google
	oauthCfg, err := services.OAuthConfig(google)
	if err != nil {
		return err
	}

	open := r.openURL
	if cmd.Bool("no-browser") {
		open = func(url string) error {
			return r.writePlain("Open this URL to authorize ytup:\n\n%s\n\n", url)
		}
	}

	addr := fmt.Sprintf("%s:%d", r.config.Server.Host, r.config.Server.Port)
	r.logger.Info("starting OAuth callback server", "addr", addr)

	tok, err := server.Login(ctx, server.LoginOptions{
		Config:  oauthCfg,
		Addr:    addr,
		Open:    open,
		Timeout: cmd.Duration("timeout"),
		Logger:  r.logger,
	})
	if err != nil {
		return err
	}

	if err := services.SaveToken(google.TokenPath, tok); err != nil {
		return err
	}

	r.logger.Info("token saved", "path", google.TokenPath, "expiry", tok.Expiry)
	return r.writePlain("✓ Authorized. Token saved to %s\n", google.TokenPath)
}

// AuthStatus reports the saved token, optionally refreshing it.
func (r *Runner) AuthStatus(ctx context.Context, cmd *cli.Command) error {
	google := r.config.Credentials.Google
	tok, err := services.LoadToken(google.TokenPath)
	if err != nil {
		return err
	}

	r.writePlain("Token file:     %s\n", google.TokenPath)
	r.writePlain("Refresh token:  %v\n", tok.RefreshToken != "")
	if tok.Expiry.IsZero() {
		r.writePlain("Access token:   no expiry\n")
	} else if tok.Valid() {
		r.writePlain("Access token:   valid for %s\n", time.Until(tok.Expiry).Round(time.Second))
	} else {
		r.writePlain("Access token:   expired %s ago\n", time.Since(tok.Expiry).Round(time.Second))
	}

	if !cmd.Bool("refresh") {
		return nil
	}

	creds, err := r.credentials(ctx)
	if err != nil {
		return err
	}
	fresh, err := creds.Token()
	if err != nil {
		return err
	}
	return r.writePlain("✓ Credentials work; access token valid until %s\n", fresh.Expiry.Local().Format(time.DateTime))
}
