package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/ytup/internal/quota"
	"github.com/desertthunder/ytup/internal/repositories"
	"github.com/desertthunder/ytup/internal/retry"
	"github.com/desertthunder/ytup/internal/services"
	"github.com/desertthunder/ytup/internal/shared"
	"github.com/desertthunder/ytup/internal/tasks"
	"github.com/urfave/cli/v3"
)

// errUnitsFailed is returned when a run finished with failed units.
var errUnitsFailed = errors.New("some uploads failed")

// Runner holds all dependencies for CLI commands and provides methods for each command action.
type Runner struct {
	config     *shared.Config
	configPath string
	loadConfig bool
	httpClient *http.Client
	creds      services.CredentialProvider
	openURL    func(string) error
	logger     *log.Logger
	output     io.Writer
}

// RunnerOpts contains configuration options for creating a Runner.
type RunnerOpts struct {
	// Config skips loading the config file when set.
	Config     *shared.Config
	ConfigPath string
	HTTPClient *http.Client
	// Credentials replace the saved token file when set.
	Credentials services.CredentialProvider
	// OpenURL presents the consent page during login.
	OpenURL func(string) error
	Logger  *log.Logger
	Output  io.Writer
}

// NewRunner creates a new Runner with the provided configuration
func NewRunner(opts RunnerOpts) *Runner {
	loadConfig := opts.Config == nil
	if opts.Config == nil {
		opts.Config = shared.DefaultConfig()
	}
	if opts.ConfigPath == "" {
		opts.ConfigPath = "config.toml"
	}
	if opts.Logger == nil {
		opts.Logger = shared.NewLogger(nil)
	}
	if opts.Output == nil {
		opts.Output = os.Stdout
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = http.DefaultClient
	}
	if opts.OpenURL == nil {
		opts.OpenURL = shared.OpenBrowser
	}

	return &Runner{
		config:     opts.Config,
		configPath: opts.ConfigPath,
		loadConfig: loadConfig,
		httpClient: opts.HTTPClient,
		creds:      opts.Credentials,
		openURL:    opts.OpenURL,
		logger:     opts.Logger,
		output:     opts.Output,
	}
}

func (r *Runner) app() *cli.Command {
	return &cli.Command{
		Name:    "ytup",
		Usage:   "Resumable batch uploads of local videos to YouTube",
		Version: "0.1.0",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to configuration file",
				Value:   r.configPath,
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "Override [logging] level (debug, info, warn, error)",
			},
		},
		Before:   r.Before,
		Commands: r.register(),
	}
}

func (r *Runner) register() []*cli.Command {
	commands := []*cli.Command{}
	for _, fn := range [](func(*Runner) *cli.Command){
		setupCommand, authCommand, uploadCommand, ledgerCommand, quotaCommand,
	} {
		commands = append(commands, fn(r))
	}

	return commands
}

// Before loads and validates the configuration, then applies the log level.
func (r *Runner) Before(ctx context.Context, cmd *cli.Command) (context.Context, error) {
	if cmd.IsSet("config") {
		r.configPath = cmd.String("config")
		r.loadConfig = true
	}

	if r.loadConfig {
		if _, err := os.Stat(r.configPath); err == nil {
			config, err := shared.LoadConfig(r.configPath)
			if err != nil {
				return ctx, fmt.Errorf("%w: %v", shared.ErrInvalidConfig, err)
			}
			r.config = config
		} else {
			r.logger.Debug("config file not found, using defaults", "path", r.configPath)
		}
	}

	if err := r.config.Validate(); err != nil {
		return ctx, err
	}

	level := r.config.Logging.Level
	if cmd.IsSet("log-level") {
		level = cmd.String("log-level")
	}
	shared.SetLogLevel(r.logger, shared.ParseLogLevel(level))
	return ctx, nil
}

// SetLogger replaces the logger, used while a TUI owns the terminal.
func (r *Runner) SetLogger(logger *log.Logger) {
	r.logger = logger
}

// openDatabase opens the configured database and applies pending migrations.
func (r *Runner) openDatabase() (*sql.DB, error) {
	db, err := shared.NewDatabase(r.config.Database.Path)
	if err != nil {
		return nil, err
	}
	shared.ConfigureDatabase(db, r.config.Database.MaxOpenConns, r.config.Database.MaxIdleConns)

	if err := shared.RunMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return db, nil
}

func (r *Runner) credentials(ctx context.Context) (services.CredentialProvider, error) {
	if r.creds != nil {
		return r.creds, nil
	}
	return services.NewFileCredentials(ctx, r.config.Credentials.Google, r.logger)
}

func (r *Runner) governor(ctx context.Context, db *sql.DB) (*quota.Governor, error) {
	opts := quota.OptionsFromConfig(r.config.Quota)
	opts.Logger = r.logger
	if r.config.Quota.Persist {
		opts.Store = repositories.NewQuotaRepository(db)
	}
	return quota.New(ctx, opts)
}

// policy builds the retry policy from the [upload] section.
func (r *Runner) policy() retry.Policy {
	u := r.config.Upload
	seconds := func(s float64) time.Duration { return time.Duration(s * float64(time.Second)) }
	return retry.Policy{
		Base:           seconds(u.RetryBaseSeconds),
		Multiplier:     u.RetryMultiplier,
		Ceiling:        seconds(u.RetryCeilingSeconds),
		MaxRetries:     u.MaxRetries,
		JitterFraction: u.JitterFraction,
		MaxAnomalies:   u.MaxAnomalies,
	}
}

// engineFlags are the per-run overrides of the [upload] section.
type engineFlags struct {
	concurrency int
	retryFailed bool
	retryAttach bool
}

// newEngine wires the upload client, Data API services, governor and ledger into a [tasks.Engine].
func (r *Runner) newEngine(ctx context.Context, db *sql.DB, flags engineFlags) (*tasks.Engine, error) {
	cfg := r.config

	creds, err := r.credentials(ctx)
	if err != nil {
		return nil, err
	}

	gov, err := r.governor(ctx, db)
	if err != nil {
		return nil, err
	}

	api, err := services.NewYouTubeAPI(ctx, services.APIOptions{BaseURL: cfg.Upload.APIBaseURL, TokenSource: creds})
	if err != nil {
		return nil, err
	}

	opts := tasks.EngineOpts{
		Uploader: services.NewResumableClient(services.ResumableOptions{
			UploadURL:   cfg.Upload.UploadURL,
			HTTPClient:  r.httpClient,
			Credentials: creds,
			Logger:      r.logger,
			Timeout:     cfg.Upload.RequestTimeout(),
		}),
		Governor: gov,
		Ledger:   repositories.NewLedgerRepository(db),
		Attacher: services.NewPlaylistService(api, gov, services.PlaylistOptions{
			CreateIfNotExists: cfg.Playlist.CreateIfNotExists,
			Privacy:           cfg.Playlist.Privacy,
			Description:       cfg.Playlist.Description,
		}, r.logger),
		Logger: r.logger,
		Config: tasks.EngineConfig{
			Concurrency: cfg.Upload.Concurrency,
			RetryFailed: flags.retryFailed,
			RetryAttach: flags.retryAttach,
			Session: tasks.SessionConfig{
				ChunkSize:       cfg.Upload.ChunkSize(),
				CheckpointEvery: cfg.Upload.CheckpointEvery,
				Policy:          r.policy(),
				GracePeriod:     cfg.Upload.GracePeriod(),
				Verify:          cfg.Upload.Verify,
			},
		},
	}
	if flags.concurrency > 0 {
		opts.Config.Concurrency = flags.concurrency
	}
	if cfg.Upload.Verify {
		opts.Verifier = services.NewVideoService(api, gov)
	}

	return tasks.NewEngine(opts)
}

func (r *Runner) writeJSON(data any, pretty bool) error {
	var output []byte
	var err error

	if pretty {
		output, err = json.MarshalIndent(data, "", "  ")
	} else {
		output, err = json.Marshal(data)
	}

	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}

	if _, err := r.output.Write(output); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}

	if _, err := r.output.Write([]byte("\n")); err != nil {
		return fmt.Errorf("failed to write newline: %w", err)
	}

	return nil
}

func (r *Runner) writeBytes(data []byte) error {
	if _, err := r.output.Write(data); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}

func (r *Runner) writePlain(format string, args ...any) error {
	text := fmt.Sprintf(format, args...)
	if _, err := r.output.Write([]byte(text)); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}

func (r *Runner) writePlainHeader(title string) {
	r.writePlain("═══════════════════════════════════════\n")
	r.writePlain("%v\n", title)
	r.writePlain("═══════════════════════════════════════\n")
}
