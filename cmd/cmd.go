// submodule cmd contains command definitions
package main

import (
	"time"

	"github.com/urfave/cli/v3"
)

// setupCommand handles setup operations for the config file and database.
func setupCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "setup",
		Usage: "Setup and configuration commands",
		Commands: []*cli.Command{
			{
				Name:  "database",
				Usage: "Create the config file if missing, initialize the database and run migrations",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "rollback",
						Usage: "Roll back the most recent migration instead",
					},
				},
				Action: r.SetupDatabase,
			},
		},
	}
}

// authCommand handles Google OAuth operations
func authCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "auth",
		Usage: "Manage YouTube authorization",
		Commands: []*cli.Command{
			{
				Name:  "login",
				Usage: "Authorize ytup through the browser and save the token",
				Flags: []cli.Flag{
					&cli.DurationFlag{
						Name:  "timeout",
						Usage: "How long to wait for the browser callback",
						Value: 2 * time.Minute,
					},
					&cli.BoolFlag{
						Name:  "no-browser",
						Usage: "Print the consent URL instead of opening a browser",
					},
				},
				Action: r.AuthLogin,
			},
			{
				Name:  "status",
				Usage: "Show the saved token",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "refresh",
						Usage: "Refresh the access token to check the credentials still work",
					},
				},
				Action: r.AuthStatus,
			},
		},
	}
}

func uploadFlags() []cli.Flag {
	return []cli.Flag{
		&cli.IntFlag{
			Name:  "concurrency",
			Usage: "Maximum uploads in flight (default from [upload] concurrency)",
		},
		&cli.BoolFlag{
			Name:  "retry-failed",
			Usage: "Restart units whose last attempt failed",
		},
		&cli.BoolFlag{
			Name:  "retry-attach",
			Usage: "Retry playlist attachment for completed uploads that missed it",
		},
		&cli.BoolFlag{
			Name:  "tui",
			Usage: "Show the interactive progress monitor",
		},
		&cli.BoolFlag{
			Name:    "yes",
			Aliases: []string{"y"},
			Usage:   "Start the TUI run without confirmation",
		},
		&cli.BoolFlag{
			Name:  "json",
			Usage: "Print the run summary as JSON",
		},
		&cli.StringFlag{
			Name:  "report",
			Usage: "Write the run summary to a file (.json, .csv, .md or text)",
		},
	}
}

// uploadCommand handles upload runs
func uploadCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "upload",
		Usage: "Upload videos with resumable sessions",
		Commands: []*cli.Command{
			{
				Name:  "run",
				Usage: "Upload every supported video in a directory, resuming unfinished ones",
				Flags: append([]cli.Flag{
					&cli.StringFlag{
						Name:    "dir",
						Aliases: []string{"d"},
						Usage:   "Videos directory (default from [paths] videos_directory)",
					},
					&cli.StringFlag{
						Name:    "metadata",
						Aliases: []string{"m"},
						Usage:   "Metadata file (default from [paths] metadata_file)",
					},
				}, uploadFlags()...),
				Action: r.UploadRun,
			},
			{
				Name:   "resume",
				Usage:  "Continue every unfinished upload recorded in the ledger",
				Flags:  uploadFlags(),
				Action: r.UploadResume,
			},
		},
	}
}

// ledgerCommand handles inspection and maintenance of the upload ledger
func ledgerCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "ledger",
		Usage: "Inspect and maintain the upload ledger",
		Commands: []*cli.Command{
			{
				Name:  "list",
				Usage: "List ledger entries",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "status",
						Usage: "Only entries with this status",
					},
					&cli.StringFlag{
						Name:    "format",
						Aliases: []string{"f"},
						Usage:   "Output format: text, json, csv or markdown",
						Value:   "text",
					},
					&cli.IntFlag{
						Name:  "limit",
						Usage: "Maximum number of entries",
					},
				},
				Action: r.LedgerList,
			},
			{
				Name:      "show",
				Usage:     "Show one entry by identity, identity prefix or path",
				Arguments: []cli.Argument{&cli.StringArg{Name: "key"}},
				Action:    r.LedgerShow,
			},
			{
				Name:      "abandon",
				Usage:     "Never resume an entry again",
				Arguments: []cli.Argument{&cli.StringArg{Name: "key"}},
				Action:    r.LedgerAbandon,
			},
			{
				Name:  "prune",
				Usage: "Delete old terminal entries",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "status",
						Usage: "Terminal status to prune: completed, failed or abandoned",
						Value: "completed",
					},
					&cli.DurationFlag{
						Name:  "older-than",
						Usage: "Only entries last updated before this long ago",
						Value: 30 * 24 * time.Hour,
					},
				},
				Action: r.LedgerPrune,
			},
		},
	}
}

// quotaCommand reports the daily budget
func quotaCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "quota",
		Usage: "Daily quota budget",
		Commands: []*cli.Command{
			{
				Name:  "status",
				Usage: "Show the budget spent today and when it resets",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "json",
						Usage: "Output raw JSON",
					},
				},
				Action: r.QuotaStatus,
			},
		},
	}
}
