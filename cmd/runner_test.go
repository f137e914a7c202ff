package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/desertthunder/ytup/internal/models"
	"github.com/desertthunder/ytup/internal/repositories"
	"github.com/desertthunder/ytup/internal/services"
	"github.com/desertthunder/ytup/internal/shared"
	tu "github.com/desertthunder/ytup/internal/testing"
	"golang.org/x/oauth2"
)

// testEnv is a config pointing at a fake upload server, a temp database and a videos directory.
type testEnv struct {
	srv    *tu.UploadServer
	config *shared.Config
	videos string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()
	srv := tu.NewUploadServer(t)

	cfg := shared.DefaultConfig()
	cfg.Database.Path = filepath.Join(dir, "ytup.db")
	cfg.Paths.VideosDirectory = filepath.Join(dir, "videos")
	cfg.Paths.MetadataFile = filepath.Join(dir, "none.toml")
	cfg.Paths.LogFile = filepath.Join(dir, "ytup.log")
	cfg.Credentials.Google.TokenPath = filepath.Join(dir, "token.json")
	cfg.Upload.UploadURL = srv.UploadURL()
	cfg.Upload.APIBaseURL = srv.URL + "/youtube/v3/"
	cfg.Upload.RetryBaseSeconds = 0.001
	cfg.Upload.RetryCeilingSeconds = 0.005
	cfg.Quota.RequestsPerMinute = 10000

	if err := os.MkdirAll(cfg.Paths.VideosDirectory, 0o755); err != nil {
		t.Fatal(err)
	}
	return &testEnv{srv: srv, config: cfg, videos: cfg.Paths.VideosDirectory}
}

func (e *testEnv) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	output := &bytes.Buffer{}
	runner := NewRunner(RunnerOpts{
		Config:      e.config,
		Output:      output,
		Credentials: services.StaticCredentials(&oauth2.Token{AccessToken: "test", TokenType: "Bearer"}),
		Logger:      shared.NewLogger(&bytes.Buffer{}),
	})
	err := runner.app().Run(context.Background(), append([]string{"ytup"}, args...))
	return output.String(), err
}

func (e *testEnv) entries(t *testing.T) []*models.LedgerEntry {
	t.Helper()
	db, err := shared.NewDatabase(e.config.Database.Path)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	entries, err := repositories.NewLedgerRepository(db).List(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	return entries
}

func TestRunner(t *testing.T) {
	t.Run("NewRunner", func(t *testing.T) {
		t.Run("with all dependencies provided", func(t *testing.T) {
			config := shared.DefaultConfig()
			logger := shared.NewLogger(nil)
			output := &bytes.Buffer{}
			httpClient := &http.Client{}
			creds := services.StaticCredentials(&oauth2.Token{AccessToken: "x"})

			runner := NewRunner(RunnerOpts{
				Config:      config,
				ConfigPath:  "/test/path/config.toml",
				Logger:      logger,
				Output:      output,
				HTTPClient:  httpClient,
				Credentials: creds,
			})

			if runner.config != config || runner.loadConfig {
				t.Error("expected the given config to be used without loading")
			}
			if runner.configPath != "/test/path/config.toml" {
				t.Errorf("expected configPath to be set, got %s", runner.configPath)
			}
			if runner.logger != logger {
				t.Error("expected logger to be set")
			}
			if runner.output != output {
				t.Error("expected output to be set")
			}
			if runner.httpClient != httpClient {
				t.Error("expected httpClient to be set")
			}
			if runner.creds != creds {
				t.Error("expected credentials to be set")
			}
		})

		t.Run("with no options uses defaults", func(t *testing.T) {
			runner := NewRunner(RunnerOpts{})

			if runner.config == nil || !runner.loadConfig {
				t.Error("expected default config to be loaded later")
			}
			if runner.configPath != "config.toml" {
				t.Errorf("expected config.toml, got %s", runner.configPath)
			}
			if runner.logger == nil {
				t.Error("expected default logger to be set")
			}
			if runner.output != os.Stdout {
				t.Error("expected output to default to os.Stdout")
			}
			if runner.httpClient != http.DefaultClient {
				t.Error("expected httpClient to default to http.DefaultClient")
			}
			if runner.openURL == nil {
				t.Error("expected a browser opener")
			}
		})
	})

	t.Run("writeJSON", func(t *testing.T) {
		t.Run("writes formatted JSON successfully", func(t *testing.T) {
			output := &bytes.Buffer{}
			runner := NewRunner(RunnerOpts{Output: output})

			if err := runner.writeJSON(map[string]string{"key": "value"}, true); err != nil {
				t.Fatalf("expected no error, got %v", err)
			}

			result := output.String()
			if !strings.Contains(result, `"key": "value"`) {
				t.Errorf("expected formatted JSON, got %s", result)
			}
			if !strings.HasSuffix(result, "\n") {
				t.Error("expected output to end with newline")
			}
		})

		t.Run("handles marshal error with non-serializable data", func(t *testing.T) {
			runner := NewRunner(RunnerOpts{Output: &bytes.Buffer{}})

			err := runner.writeJSON(make(chan int), false)
			if err == nil || !strings.Contains(err.Error(), "failed to marshal JSON") {
				t.Errorf("expected marshal error, got %v", err)
			}
		})

		t.Run("handles write failure", func(t *testing.T) {
			runner := NewRunner(RunnerOpts{Output: &tu.FWriter{}})

			err := runner.writeJSON(map[string]string{"key": "value"}, false)
			if err == nil || !strings.Contains(err.Error(), "failed to write output") {
				t.Errorf("expected write error, got %v", err)
			}
		})

		t.Run("handles newline write failure", func(t *testing.T) {
			limitedWriter := tu.NewLimitedWriter(1, 0, &bytes.Buffer{})
			runner := NewRunner(RunnerOpts{Output: &limitedWriter})

			err := runner.writeJSON(map[string]string{"key": "value"}, false)
			if err == nil || !strings.Contains(err.Error(), "failed to write newline") {
				t.Errorf("expected newline write error, got %v", err)
			}
		})
	})

	t.Run("writePlain", func(t *testing.T) {
		output := &bytes.Buffer{}
		runner := NewRunner(RunnerOpts{Output: output})

		if err := runner.writePlain("hello %s", "world"); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if output.String() != "hello world" {
			t.Errorf("expected 'hello world', got %q", output.String())
		}

		if err := NewRunner(RunnerOpts{Output: &tu.FWriter{}}).writePlain("test"); err == nil {
			t.Error("expected error from failing writer")
		}
	})

	t.Run("register", func(t *testing.T) {
		commands := NewRunner(RunnerOpts{}).register()

		names := map[string]bool{}
		for i, cmd := range commands {
			if cmd == nil {
				t.Fatalf("command at index %d is nil", i)
			}
			names[cmd.Name] = true
		}
		for _, want := range []string{"setup", "auth", "upload", "ledger", "quota"} {
			if !names[want] {
				t.Errorf("expected %s command", want)
			}
		}
	})
}

func TestBefore(t *testing.T) {
	t.Run("loads the config file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.toml")
		content := "[upload]\nconcurrency = 4\n[logging]\nlevel = \"debug\"\n"
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}

		runner := NewRunner(RunnerOpts{Output: &bytes.Buffer{}, Logger: shared.NewLogger(&bytes.Buffer{})})
		if err := runner.app().Run(context.Background(), []string{"ytup", "--config", path, "setup"}); err != nil {
			t.Fatalf("Run() error = %v", err)
		}

		if runner.config.Upload.Concurrency != 4 {
			t.Errorf("expected concurrency 4, got %d", runner.config.Upload.Concurrency)
		}
		if runner.config.Upload.ChunkSizeMB != 10 {
			t.Errorf("expected default chunk size to survive, got %d", runner.config.Upload.ChunkSizeMB)
		}
		if runner.logger.GetLevel().String() != "debug" {
			t.Errorf("expected debug level, got %s", runner.logger.GetLevel())
		}
	})

	t.Run("rejects an invalid config", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.toml")
		if err := os.WriteFile(path, []byte("[upload]\nconcurrency = 0\n"), 0o644); err != nil {
			t.Fatal(err)
		}

		runner := NewRunner(RunnerOpts{Output: &bytes.Buffer{}, Logger: shared.NewLogger(&bytes.Buffer{})})
		err := runner.app().Run(context.Background(), []string{"ytup", "--config", path, "setup"})
		if !errors.Is(err, shared.ErrInvalidConfig) {
			t.Errorf("expected ErrInvalidConfig, got %v", err)
		}
	})
}

func TestUploadCommands(t *testing.T) {
	t.Run("uploads a directory and skips it on the next run", func(t *testing.T) {
		env := newTestEnv(t)
		tu.WriteVideo(t, env.videos, "b.mp4", 300<<10)
		tu.WriteVideo(t, env.videos, "a.mov", 20<<10)
		tu.WriteVideo(t, env.videos, "notes.txt", 10)

		out, err := env.run(t, "upload", "run")
		if err != nil {
			t.Fatalf("upload run error = %v\n%s", err, out)
		}
		for _, want := range []string{"✓ a.mov", "✓ b.mp4", "Completed: 2"} {
			if !strings.Contains(out, want) {
				t.Errorf("expected %q in output:\n%s", want, out)
			}
		}
		if got := env.srv.Count(tu.OpInitiate); got != 2 {
			t.Errorf("expected 2 sessions, got %d", got)
		}

		entries := env.entries(t)
		if len(entries) != 2 {
			t.Fatalf("expected 2 ledger entries, got %d", len(entries))
		}
		for _, e := range entries {
			if e.Status != models.LedgerCompleted || e.RemoteID == "" {
				t.Errorf("expected completed entry with a video id, got %s %q", e.Status, e.RemoteID)
			}
		}

		out, err = env.run(t, "upload", "run", "--json")
		if err != nil {
			t.Fatalf("second run error = %v", err)
		}
		var summary struct {
			Skipped int `json:"skipped"`
		}
		if err := json.Unmarshal([]byte(out), &summary); err != nil {
			t.Fatalf("expected JSON summary, got %q: %v", out, err)
		}
		if summary.Skipped != 2 {
			t.Errorf("expected 2 skipped units, got %d", summary.Skipped)
		}
		if got := env.srv.Count(tu.OpInitiate); got != 2 {
			t.Errorf("expected no new sessions, got %d", got)
		}
	})

	t.Run("writes a report", func(t *testing.T) {
		env := newTestEnv(t)
		tu.WriteVideo(t, env.videos, "a.mp4", 10<<10)
		report := filepath.Join(t.TempDir(), "run.csv")

		if _, err := env.run(t, "upload", "run", "--report", report); err != nil {
			t.Fatalf("upload run error = %v", err)
		}
		if content := tu.MustReadFile(t, report); !strings.Contains(content, "a.mp4,completed") {
			t.Errorf("unexpected report:\n%s", content)
		}
	})

	t.Run("resumes units paused by the daily quota", func(t *testing.T) {
		env := newTestEnv(t)
		env.config.Quota.DailyBudget = env.config.Quota.Costs.Initiate
		env.config.Quota.Persist = false
		tu.WriteVideo(t, env.videos, "a.mp4", 10<<10)
		tu.WriteVideo(t, env.videos, "b.mp4", 10<<10)

		out, err := env.run(t, "upload", "run")
		if err != nil {
			t.Fatalf("upload run error = %v\n%s", err, out)
		}
		if !strings.Contains(out, "Completed: 1") {
			t.Errorf("expected one completed unit, got:\n%s", out)
		}

		out, err = env.run(t, "upload", "resume")
		if err != nil {
			t.Fatalf("upload resume error = %v\n%s", err, out)
		}
		if !strings.Contains(out, "✓ b.mp4") {
			t.Errorf("expected b.mp4 to complete, got:\n%s", out)
		}
		for _, e := range env.entries(t) {
			if e.Status != models.LedgerCompleted {
				t.Errorf("expected %s completed, got %s", e.Path, e.Status)
			}
		}

		out, _ = env.run(t, "upload", "resume")
		if !strings.Contains(out, "Nothing to resume.") {
			t.Errorf("expected nothing left, got %q", out)
		}
	})

	t.Run("halts on rejected credentials", func(t *testing.T) {
		env := newTestEnv(t)
		tu.WriteVideo(t, env.videos, "a.mp4", 10<<10)
		tu.WriteVideo(t, env.videos, "b.mp4", 10<<10)
		env.srv.Inject(tu.OpInitiate, tu.Fault{Status: http.StatusUnauthorized, Reason: "authError"})

		out, err := env.run(t, "upload", "run")
		if !errors.Is(err, shared.ErrRunHalted) {
			t.Fatalf("expected ErrRunHalted, got %v", err)
		}
		if !strings.Contains(out, "Run halted") {
			t.Errorf("expected halt notice, got:\n%s", out)
		}
		if got := env.srv.Count(tu.OpInitiate); got != 1 {
			t.Errorf("expected one initiation, got %d", got)
		}
	})

	t.Run("fails with a non-zero outcome", func(t *testing.T) {
		env := newTestEnv(t)
		tu.WriteVideo(t, env.videos, "a.mp4", 10<<10)
		env.srv.Inject(tu.OpInitiate, tu.Fault{Status: http.StatusBadRequest, Reason: "invalidTitle"})

		_, err := env.run(t, "upload", "run")
		if !errors.Is(err, errUnitsFailed) {
			t.Errorf("expected errUnitsFailed, got %v", err)
		}
	})

	t.Run("empty directory", func(t *testing.T) {
		env := newTestEnv(t)
		out, err := env.run(t, "upload", "run")
		if err != nil || !strings.Contains(out, "No videos found") {
			t.Errorf("expected no-op, got %q, %v", out, err)
		}
	})

	t.Run("missing directory", func(t *testing.T) {
		env := newTestEnv(t)
		_, err := env.run(t, "upload", "run", "--dir", filepath.Join(t.TempDir(), "none"))
		if !errors.Is(err, shared.ErrSourceNotFound) {
			t.Errorf("expected ErrSourceNotFound, got %v", err)
		}
	})
}

func TestLedgerCommands(t *testing.T) {
	env := newTestEnv(t)
	tu.WriteVideo(t, env.videos, "a.mp4", 10<<10)
	tu.WriteVideo(t, env.videos, "b.mp4", 10<<10)
	env.srv.Inject(tu.OpInitiate, tu.Fault{})
	env.srv.Inject(tu.OpInitiate, tu.Fault{Status: http.StatusBadRequest, Reason: "invalidTitle"})
	if _, err := env.run(t, "upload", "run"); !errors.Is(err, errUnitsFailed) {
		t.Fatalf("expected one failed unit, got %v", err)
	}

	t.Run("list", func(t *testing.T) {
		out, err := env.run(t, "ledger", "list")
		if err != nil {
			t.Fatalf("ledger list error = %v", err)
		}
		for _, want := range []string{"a.mp4", "b.mp4", "completed", "failed", "Ledger: 1 completed, 1 failed"} {
			if !strings.Contains(out, want) {
				t.Errorf("expected %q in:\n%s", want, out)
			}
		}

		out, _ = env.run(t, "ledger", "list", "--status", "failed", "--format", "csv")
		if strings.Count(strings.TrimSpace(out), "\n") != 1 || !strings.Contains(out, "b.mp4") {
			t.Errorf("expected header and one failed row, got:\n%s", out)
		}

		if _, err := env.run(t, "ledger", "list", "--status", "lost"); !errors.Is(err, shared.ErrInvalidFlag) {
			t.Errorf("expected ErrInvalidFlag, got %v", err)
		}
	})

	t.Run("show", func(t *testing.T) {
		out, err := env.run(t, "ledger", "show", filepath.Join(env.videos, "a.mp4"))
		if err != nil {
			t.Fatalf("ledger show error = %v", err)
		}
		if !strings.Contains(out, "completed") {
			t.Errorf("expected entry details, got:\n%s", out)
		}

		if _, err := env.run(t, "ledger", "show", "nope"); !errors.Is(err, shared.ErrLedgerEntryNotFound) {
			t.Errorf("expected ErrLedgerEntryNotFound, got %v", err)
		}
		if _, err := env.run(t, "ledger", "show"); !errors.Is(err, shared.ErrMissingArgument) {
			t.Errorf("expected ErrMissingArgument, got %v", err)
		}
	})

	t.Run("abandon", func(t *testing.T) {
		if _, err := env.run(t, "ledger", "abandon", filepath.Join(env.videos, "a.mp4")); !errors.Is(err, shared.ErrInvalidArgument) {
			t.Errorf("expected completed entries to be refused, got %v", err)
		}

		out, err := env.run(t, "ledger", "abandon", filepath.Join(env.videos, "b.mp4"))
		if err != nil || !strings.Contains(out, "Abandoned") {
			t.Fatalf("expected abandon, got %q, %v", out, err)
		}

		out, _ = env.run(t, "upload", "run", "--retry-failed")
		if !strings.Contains(out, "abandoned") {
			t.Errorf("expected abandoned unit to be skipped, got:\n%s", out)
		}
	})

	t.Run("prune", func(t *testing.T) {
		out, err := env.run(t, "ledger", "prune", "--status", "completed", "--older-than", "0s")
		if err != nil || !strings.Contains(out, "Pruned 1 completed entries") {
			t.Errorf("unexpected prune result %q, %v", out, err)
		}

		if _, err := env.run(t, "ledger", "prune", "--status", "paused"); !errors.Is(err, shared.ErrInvalidArgument) {
			t.Errorf("expected non-terminal prune to be refused, got %v", err)
		}
	})
}

func TestQuotaStatus(t *testing.T) {
	env := newTestEnv(t)
	tu.WriteVideo(t, env.videos, "a.mp4", 10<<10)
	if _, err := env.run(t, "upload", "run"); err != nil {
		t.Fatalf("upload run error = %v", err)
	}

	out, err := env.run(t, "quota", "status", "--json")
	if err != nil {
		t.Fatalf("quota status error = %v", err)
	}

	var report quotaReport
	if err := json.Unmarshal([]byte(out), &report); err != nil {
		t.Fatalf("invalid JSON %q: %v", out, err)
	}
	initiate := env.config.Quota.Costs.Initiate
	if report.Consumed != initiate || report.Remaining != report.DailyBudget-initiate {
		t.Errorf("expected %d consumed, got %+v", initiate, report)
	}
	if len(report.Operations) != 1 || report.Operations[0].Operation != "initiate" || report.Operations[0].Calls != 1 {
		t.Errorf("unexpected operations %+v", report.Operations)
	}
	if !report.ResetAt.After(time.Now()) {
		t.Errorf("expected a future reset, got %s", report.ResetAt)
	}

	out, err = env.run(t, "quota", "status")
	if err != nil || !strings.Contains(out, "Remaining:") {
		t.Errorf("unexpected text output %q, %v", out, err)
	}
}

func TestAuthCommands(t *testing.T) {
	t.Run("status without a token", func(t *testing.T) {
		env := newTestEnv(t)
		if _, err := env.run(t, "auth", "status"); !errors.Is(err, shared.ErrNotAuthenticated) {
			t.Errorf("expected ErrNotAuthenticated, got %v", err)
		}
	})

	t.Run("status with a token", func(t *testing.T) {
		env := newTestEnv(t)
		tok := &oauth2.Token{AccessToken: "a", RefreshToken: "r", Expiry: time.Now().Add(time.Hour)}
		if err := services.SaveToken(env.config.Credentials.Google.TokenPath, tok); err != nil {
			t.Fatal(err)
		}

		out, err := env.run(t, "auth", "status", "--refresh")
		if err != nil {
			t.Fatalf("auth status error = %v", err)
		}
		for _, want := range []string{"Refresh token:  true", "valid for", "Credentials work"} {
			if !strings.Contains(out, want) {
				t.Errorf("expected %q in:\n%s", want, out)
			}
		}
	})

	t.Run("login requires a client", func(t *testing.T) {
		env := newTestEnv(t)
		env.config.Credentials.Google.ClientID = ""
		if _, err := env.run(t, "auth", "login"); !errors.Is(err, shared.ErrMissingCredentials) {
			t.Errorf("expected ErrMissingCredentials, got %v", err)
		}
	})
}

func TestSetupDatabase(t *testing.T) {
	dir := t.TempDir()
	cfg := shared.DefaultConfig()
	cfg.Database.Path = filepath.Join(dir, "data", "ytup.db")
	configPath := filepath.Join(dir, "config.toml")

	output := &bytes.Buffer{}
	runner := NewRunner(RunnerOpts{Config: cfg, ConfigPath: configPath, Output: output, Logger: shared.NewLogger(&bytes.Buffer{})})
	if err := runner.app().Run(context.Background(), []string{"ytup", "setup", "database"}); err != nil {
		t.Fatalf("setup database error = %v", err)
	}

	tu.AssertFileExists(t, configPath)
	tu.AssertDirExists(t, filepath.Dir(cfg.Database.Path))
	tu.AssertFileExists(t, cfg.Database.Path)
	if !strings.Contains(output.String(), "Database ready") {
		t.Errorf("unexpected output %q", output.String())
	}

	t.Run("rollback", func(t *testing.T) {
		if err := runner.app().Run(context.Background(), []string{"ytup", "setup", "database", "--rollback"}); err != nil {
			t.Fatalf("setup database --rollback error = %v", err)
		}
		if !strings.Contains(output.String(), "Rolled back") {
			t.Errorf("unexpected output %q", output.String())
		}

		db, err := shared.NewDatabase(cfg.Database.Path)
		if err != nil {
			t.Fatal(err)
		}
		defer db.Close()

		var applied int
		if err := db.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&applied); err != nil {
			t.Fatalf("failed to count migrations: %v", err)
		}
		if applied != 2 {
			t.Errorf("expected 2 applied migrations, got %d", applied)
		}
	})
}
