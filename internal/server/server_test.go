package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/ytup/internal/shared"
	"golang.org/x/oauth2"
)

func tokenServer(t *testing.T, refresh string) (*httptest.Server, *atomic.Value) {
	t.Helper()
	var verifier atomic.Value
	verifier.Store("")

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if r.PostForm.Get("code") != "auth-code" {
			http.Error(w, `{"error":"invalid_grant"}`, http.StatusBadRequest)
			return
		}
		verifier.Store(r.PostForm.Get("code_verifier"))

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token":  "access",
			"token_type":    "Bearer",
			"refresh_token": refresh,
			"expires_in":    3600,
		})
	}))
	t.Cleanup(srv.Close)
	return srv, &verifier
}

func testConfig(tokenURL string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     "client",
		ClientSecret: "secret",
		RedirectURL:  "http://localhost:8080/oauth2callback",
		Scopes:       []string{"https://www.googleapis.com/auth/youtube.upload"},
		Endpoint:     oauth2.Endpoint{AuthURL: "https://accounts.example.com/o/oauth2/auth", TokenURL: tokenURL},
	}
}

// approve simulates the consent page redirecting back with code.
func approve(t *testing.T, code string, mutate func(url.Values)) func(string) error {
	return func(authURL string) error {
		u, err := url.Parse(authURL)
		if err != nil {
			return err
		}
		q := u.Query()
		cb := url.Values{"code": {code}, "state": {q.Get("state")}}
		if mutate != nil {
			mutate(cb)
		}
		go func() {
			resp, err := http.Get(q.Get("redirect_uri") + "?" + cb.Encode())
			if err != nil {
				t.Errorf("callback request failed: %v", err)
				return
			}
			resp.Body.Close()
		}()
		return nil
	}
}

func TestBasicRouter(t *testing.T) {
	t.Run("middleware order", func(t *testing.T) {
		var order []string
		mw := func(name string) Middleware {
			return func(next http.Handler) http.Handler {
				return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
					order = append(order, name)
					next.ServeHTTP(w, r)
				})
			}
		}

		r := NewBasicRouter()
		r.Use(mw("first"), mw("second"))
		r.Handle(http.MethodGet, "/ping", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			order = append(order, "handler")
		}))

		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/ping", nil))

		if got := strings.Join(order, ","); got != "first,second,handler" {
			t.Errorf("expected first,second,handler, got %s", got)
		}
	})

	t.Run("method mismatch", func(t *testing.T) {
		r := NewBasicRouter()
		r.Handle(http.MethodGet, "/ping", http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))

		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/ping", nil))
		if rec.Code != http.StatusMethodNotAllowed {
			t.Errorf("expected 405, got %d", rec.Code)
		}
	})

	t.Run("request logger keeps status", func(t *testing.T) {
		var buf strings.Builder
		logger := shared.NewLogger(&buf)
		shared.SetLogLevel(logger, log.DebugLevel)

		r := NewBasicRouter()
		r.Use(RequestLogger(logger))
		r.Handle(http.MethodGet, "/teapot", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusTeapot)
		}))

		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/teapot", nil))
		if rec.Code != http.StatusTeapot {
			t.Errorf("expected 418, got %d", rec.Code)
		}
		if !strings.Contains(buf.String(), "status=418") {
			t.Errorf("expected status in log, got %q", buf.String())
		}
	})
}

func TestOAuthHandler(t *testing.T) {
	t.Run("routes follow the redirect path", func(t *testing.T) {
		h := NewOAuthHandler(testConfig("http://unused"))
		if routes := h.Routes(); len(routes) != 1 || routes[0] != "GET /oauth2callback" {
			t.Errorf("unexpected routes %v", routes)
		}

		cfg := testConfig("http://unused")
		cfg.RedirectURL = "http://localhost:8080"
		if routes := NewOAuthHandler(cfg).Routes(); routes[0] != "GET /callback" {
			t.Errorf("expected default callback path, got %v", routes)
		}
	})

	t.Run("auth URL requests offline access with PKCE", func(t *testing.T) {
		h := NewOAuthHandler(testConfig("http://unused"))
		u, err := url.Parse(h.AuthCodeURL())
		if err != nil {
			t.Fatalf("invalid URL: %v", err)
		}
		q := u.Query()
		for key, want := range map[string]string{
			"access_type":           "offline",
			"prompt":                "consent",
			"code_challenge_method": "S256",
			"state":                 h.state,
		} {
			if q.Get(key) != want {
				t.Errorf("expected %s=%s, got %q", key, want, q.Get(key))
			}
		}
		if q.Get("code_challenge") == "" {
			t.Error("expected a code challenge")
		}
	})

	t.Run("rejects a wrong state", func(t *testing.T) {
		h := NewOAuthHandler(testConfig("http://unused"))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/oauth2callback?code=x&state=forged", nil))

		if rec.Code != http.StatusBadRequest {
			t.Errorf("expected 400, got %d", rec.Code)
		}
		result := <-h.Result()
		if !errors.Is(result.Error(), shared.ErrAuthFailed) {
			t.Errorf("expected ErrAuthFailed, got %v", result.Error())
		}
	})

	t.Run("only the first callback counts", func(t *testing.T) {
		h := NewOAuthHandler(testConfig("http://unused"))
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/oauth2callback?error=access_denied&state="+h.state, nil))

		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/oauth2callback?code=x&state="+h.state, nil))
		if rec.Code != http.StatusBadRequest || !strings.Contains(rec.Body.String(), "already processed") {
			t.Errorf("expected replay to be refused, got %d %q", rec.Code, rec.Body.String())
		}
	})

	t.Run("exchanges the code with the verifier", func(t *testing.T) {
		tokens, verifier := tokenServer(t, "refresh")
		h := NewOAuthHandler(testConfig(tokens.URL))

		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/oauth2callback?code=auth-code&state="+h.state, nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
		}

		result := <-h.Result()
		if result.Error() != nil || result.Token.RefreshToken != "refresh" {
			t.Errorf("unexpected result %+v, %v", result.Token, result.Error())
		}
		if verifier.Load().(string) != h.verifier {
			t.Errorf("expected verifier %q to be sent, got %q", h.verifier, verifier.Load())
		}
	})

	t.Run("requires a refresh token", func(t *testing.T) {
		tokens, _ := tokenServer(t, "")
		h := NewOAuthHandler(testConfig(tokens.URL))
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/oauth2callback?code=auth-code&state="+h.state, nil))

		if result := <-h.Result(); !errors.Is(result.Error(), shared.ErrNoRefreshToken) {
			t.Errorf("expected ErrNoRefreshToken, got %v", result.Error())
		}
	})
}

func TestLogin(t *testing.T) {
	quiet := shared.NewLogger(io.Discard)

	t.Run("returns the token from the callback", func(t *testing.T) {
		tokens, _ := tokenServer(t, "refresh")
		tok, err := Login(context.Background(), LoginOptions{
			Config:  testConfig(tokens.URL),
			Addr:    "127.0.0.1:0",
			Open:    approve(t, "auth-code", nil),
			Timeout: 5 * time.Second,
			Logger:  quiet,
		})
		if err != nil {
			t.Fatalf("Login() error = %v", err)
		}
		if tok.AccessToken != "access" || tok.RefreshToken != "refresh" {
			t.Errorf("unexpected token %+v", tok)
		}
	})

	t.Run("reports a denied consent", func(t *testing.T) {
		tokens, _ := tokenServer(t, "refresh")
		_, err := Login(context.Background(), LoginOptions{
			Config: testConfig(tokens.URL),
			Addr:   "127.0.0.1:0",
			Open: approve(t, "", func(v url.Values) {
				v.Del("code")
				v.Set("error", "access_denied")
			}),
			Timeout: 5 * time.Second,
			Logger:  quiet,
		})
		if !errors.Is(err, shared.ErrAuthFailed) || !strings.Contains(err.Error(), "access_denied") {
			t.Errorf("expected access_denied failure, got %v", err)
		}
	})

	t.Run("times out without a callback", func(t *testing.T) {
		_, err := Login(context.Background(), LoginOptions{
			Config:  testConfig("http://unused"),
			Addr:    "127.0.0.1:0",
			Open:    func(string) error { return errors.New("no browser") },
			Timeout: 20 * time.Millisecond,
			Logger:  quiet,
		})
		if !errors.Is(err, shared.ErrTimeout) {
			t.Errorf("expected ErrTimeout, got %v", err)
		}
	})

	t.Run("reports a busy address", func(t *testing.T) {
		busy := httptest.NewServer(http.NotFoundHandler())
		defer busy.Close()

		_, err := Login(context.Background(), LoginOptions{
			Config: testConfig("http://unused"),
			Addr:   strings.TrimPrefix(busy.URL, "http://"),
			Logger: quiet,
		})
		if err == nil || !strings.Contains(err.Error(), "failed to listen") {
			t.Errorf("expected listen failure, got %v", err)
		}
	})

	t.Run("requires a config", func(t *testing.T) {
		if _, err := Login(context.Background(), LoginOptions{}); !errors.Is(err, shared.ErrMissingArgument) {
			t.Errorf("expected ErrMissingArgument, got %v", err)
		}
	})
}
