package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"

	"github.com/hpungsan/callcoach/internal/config"
	"github.com/hpungsan/callcoach/internal/db"
	"github.com/hpungsan/callcoach/internal/logger"
)

// Version is set via -ldflags at build time.
var Version = "dev"

// isHelpOrVersion returns true if the user is requesting help or version info.
func isHelpOrVersion() bool {
	if len(os.Args) < 2 {
		return false
	}
	arg := os.Args[1]
	return arg == "--help" || arg == "-h" || arg == "--version" || arg == "-v" || arg == "help"
}

// isTerminal returns true if stdin is a terminal (not piped).
func isTerminal() bool {
	stat, _ := os.Stdin.Stat()
	return (stat.Mode() & os.ModeCharDevice) != 0
}

// printBanner displays a friendly banner when run interactively without args.
func printBanner() {
	fmt.Println(`
             _ _                      _
   ___ __ _| | | ___ ___   __ _  ___| |__
  / __/ _' | | |/ __/ _ \ / _' |/ __| '_ \
 | (_| (_| | | | (_| (_) | (_| | (__| | | |
  \___\__,_|_|_|\___\___/ \__,_|\___|_| |_|

  Sales call recordings in, coaching analyses out

  Usage: callcoach <command> [options]
         callcoach --help

  MCP server mode requires piped input.`)
}

// baseDir returns $CALLCOACH_HOME, or ~/.callcoach.
func baseDir() (string, error) {
	if dir := os.Getenv("CALLCOACH_HOME"); dir != "" {
		return dir, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(homeDir, ".callcoach"), nil
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "error: "+format+"\n", args...)
	os.Exit(1)
}

func main() {
	// No args + interactive terminal → show banner and exit
	if len(os.Args) < 2 && isTerminal() {
		printBanner()
		return
	}

	// Handle --help/--version before DB init (no DB needed)
	if isHelpOrVersion() {
		if err := newCLIApp(nil).Run(os.Args); err != nil {
			fatal("%v", err)
		}
		return
	}

	// A missing .env is fine; the environment may already be set.
	_ = godotenv.Load()

	base, err := baseDir()
	if err != nil {
		fatal("%v", err)
	}

	cfg, err := config.Load(base)
	if err != nil {
		fatal("failed to load config: %v", err)
	}

	// stdout belongs to command output and the MCP transport.
	log := logger.New(logger.Options{
		Environment: cfg.Environment,
		Level:       cfg.LogLevel,
		Output:      os.Stderr,
	})

	database, err := db.Init(base)
	if err != nil {
		fatal("failed to initialize database: %v", err)
	}
	defer database.Close()
	db.ConfigurePool(database, cfg)

	env := &appEnv{baseDir: base, db: database, cfg: cfg, log: log}

	// No args with piped stdin → MCP server
	args := os.Args
	if len(args) < 2 {
		args = append(args, "mcp")
	}

	if err := newCLIApp(env).Run(args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
