package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/hpungsan/callcoach/internal/cancel"
	"github.com/hpungsan/callcoach/internal/errors"
	"github.com/hpungsan/callcoach/internal/export"
	"github.com/hpungsan/callcoach/internal/mcp"
	"github.com/hpungsan/callcoach/internal/ops"
	"github.com/hpungsan/callcoach/internal/web"
)

// newCLIApp creates the CLI application with all commands.
// env is nil when only help or version output is needed.
func newCLIApp(env *appEnv) *cli.App {
	app := &cli.App{
		Name:    "callcoach",
		Usage:   "Sales call ingestion, transcription and coaching analysis",
		Version: Version,
		Commands: []*cli.Command{
			serveCmd(env),
			mcpCmd(env),
			statusCmd(env),
			cancelCmd(env),
			progressionCmd(env),
			backfillCmd(env),
			sweepCmd(env),
			statsCmd(env),
			exportCmd(env),
		},
		After: func(*cli.Context) error {
			if env != nil {
				env.close()
			}
			return nil
		},
	}
	// Disable default exit error handler to allow proper error return in tests
	app.ExitErrHandler = func(_ *cli.Context, _ error) {}
	return app
}

// serveCmd creates the serve command.
func serveCmd(env *appEnv) *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the HTTP API and the transcription workers",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "addr", Usage: "Listen address (overrides http_addr)"},
		},
		Action: func(c *cli.Context) error {
			if unknown := mcp.ValidateDisabledTools(env.cfg.DisabledTools); len(unknown) > 0 {
				env.log.WithField("tools", unknown).Warn("unknown tools in disabled_tools")
			}
			if env.cfg.AdminToken == "" {
				env.log.Warn("admin_token is not set; maintenance routes are closed")
			}

			svc, err := env.services(c.Context)
			if err != nil {
				return outputError(err)
			}
			if _, err := ops.ResumeIngestions(c.Context, env.db, svc.queue, env.log.Entry); err != nil {
				return outputError(err)
			}

			if addr := c.String("addr"); addr != "" {
				env.cfg.HTTPAddr = addr
			}
			srv := web.NewServer(web.Deps{
				DB:       env.db,
				Config:   env.cfg,
				Identity: svc.verifier,
				Gateway:  svc.gateway,
				Registry: svc.registry,
				Sweeper:  svc.sweeper,
				Log:      env.log,
			})
			return web.Run(srv, env.log, svc.queue.Shutdown)
		},
	}
}

// mcpCmd creates the mcp command.
func mcpCmd(env *appEnv) *cli.Command {
	return &cli.Command{
		Name:  "mcp",
		Usage: "Serve MCP tools over stdio",
		Action: func(c *cli.Context) error {
			sweeper, err := env.sweeper(c.Context)
			if err != nil {
				return outputError(err)
			}
			return mcp.Run(mcp.Deps{
				DB:       env.db,
				Config:   env.cfg,
				Registry: cancelRegistry(env),
				Sweeper:  sweeper,
				Log:      env.log,
				BaseDir:  env.baseDir,
			}, Version)
		},
	}
}

// statusCmd creates the status command.
func statusCmd(env *appEnv) *cli.Command {
	return &cli.Command{
		Name:      "status",
		Usage:     "Show an ingestion's status and failure reason",
		ArgsUsage: "<ingestion-id>",
		Action: func(c *cli.Context) error {
			output, err := ops.GetIngestionStatus(c.Context, env.db, ops.StatusInput{IngestionID: c.Args().First()})
			if err != nil {
				return outputError(err)
			}
			return outputJSON(output)
		},
	}
}

// cancelCmd creates the cancel command. Operations run inside `serve`, so
// from here the id can only be resolved, which reports cancelled=false.
func cancelCmd(env *appEnv) *cli.Command {
	return &cli.Command{
		Name:      "cancel",
		Usage:     "Look up an operation and cancel it if it runs in this process",
		ArgsUsage: "<operation-id>",
		Action: func(c *cli.Context) error {
			output, err := ops.CancelOperation(c.Context, env.db, cancelRegistry(env), ops.CancelInput{
				OperationID: c.Args().First(),
			})
			if err != nil {
				return outputError(err)
			}
			return outputJSON(output)
		},
	}
}

// progressionCmd creates the progression command.
func progressionCmd(env *appEnv) *cli.Command {
	return &cli.Command{
		Name:  "progression",
		Usage: "Show an owner's recent analyses and score trend",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "owner", Aliases: []string{"o"}, Required: true, Usage: "Owner id"},
			&cli.IntFlag{Name: "limit", Aliases: []string{"n"}, Value: ops.DefaultProgressionLimit, Usage: "Analyses to consider (max 100)"},
		},
		Action: func(c *cli.Context) error {
			output, err := ops.ComputeProgression(c.Context, env.db, env.cfg.TrendNoiseThreshold, ops.ProgressionInput{
				OwnerID: c.String("owner"),
				Limit:   c.Int("limit"),
			})
			if err != nil {
				return outputError(err)
			}
			return outputJSON(output)
		},
	}
}

// backfillCmd creates the backfill command.
func backfillCmd(env *appEnv) *cli.Command {
	return &cli.Command{
		Name:  "backfill",
		Usage: "Hash legacy analyses and merge their duplicates",
		Action: func(c *cli.Context) error {
			output, err := ops.Backfill(c.Context, env.db, env.log.Entry)
			if err != nil {
				return outputError(err)
			}
			return outputJSON(output)
		},
	}
}

// sweepCmd creates the sweep command.
func sweepCmd(env *appEnv) *cli.Command {
	return &cli.Command{
		Name:  "sweep",
		Usage: "Delete stored recordings no live ingestion references (preview unless --confirm)",
		Flags: []cli.Flag{
			&cli.Float64Flag{Name: "max-age-hours", Value: 24 * 7, Usage: "Minimum object age in hours (0 selects everything)"},
			&cli.StringFlag{Name: "owner", Aliases: []string{"o"}, Usage: "Restrict to one owner"},
			&cli.BoolFlag{Name: "confirm", Usage: "Actually delete; without it the sweep is a preview"},
		},
		Action: func(c *cli.Context) error {
			sweeper, err := env.sweeper(c.Context)
			if err != nil {
				return outputError(err)
			}
			output, err := sweeper.Sweep(c.Context, ops.SweepInput{
				MaxAgeHours: c.Float64("max-age-hours"),
				DryRun:      !c.Bool("confirm"),
				OwnerScope:  c.String("owner"),
			})
			if err != nil {
				return outputError(err)
			}
			return outputJSON(output)
		},
	}
}

// statsCmd creates the stats command.
func statsCmd(env *appEnv) *cli.Command {
	return &cli.Command{
		Name:  "stats",
		Usage: "Summarize stored objects per owner and by age",
		Action: func(c *cli.Context) error {
			sweeper, err := env.sweeper(c.Context)
			if err != nil {
				return outputError(err)
			}
			output, err := sweeper.Stats(c.Context)
			if err != nil {
				return outputError(err)
			}
			return outputJSON(output)
		},
	}
}

// exportCmd creates the export command.
func exportCmd(env *appEnv) *cli.Command {
	return &cli.Command{
		Name:  "export",
		Usage: "Write an owner's analyses to an .xlsx workbook",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "owner", Aliases: []string{"o"}, Required: true, Usage: "Owner id"},
			&cli.StringFlag{Name: "out", Usage: "Output path (default: ~/.callcoach/exports/<owner>-analyses.xlsx)"},
		},
		Action: func(c *cli.Context) error {
			owner := strings.TrimSpace(c.String("owner"))
			out := c.String("out")
			if out == "" {
				dir := export.DefaultDir(env.baseDir)
				if err := os.MkdirAll(dir, 0700); err != nil {
					return outputError(errors.NewInternal(err))
				}
				out = filepath.Join(dir, owner+"-analyses.xlsx")
			}

			output, err := export.Analyses(c.Context, env.db, export.AllowedDirs(env.baseDir, env.cfg.ExportDirs), export.Input{
				OwnerID: owner,
				Path:    out,
			})
			if err != nil {
				return outputError(err)
			}
			return outputJSON(output)
		},
	}
}

// Helper functions

// outputJSON marshals result to stdout as JSON.
func outputJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// outputError formats error for CLI.
func outputError(err error) error {
	if cErr, ok := err.(*errors.CoachError); ok {
		return cli.Exit(fmt.Sprintf("[%s] %s", cErr.Code, cErr.Message), 1)
	}
	return cli.Exit(err.Error(), 1)
}

// cancelRegistry is the process-local registry for commands that never run
// pipelines themselves.
func cancelRegistry(env *appEnv) *cancel.Registry {
	return cancel.NewRegistry(env.cfg.MaxOperations)
}
