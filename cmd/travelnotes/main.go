package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/always-cache/travelnotes/config"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	// CLI flags
	configFlag         string
	portFlag           int
	originFlag         string
	dbFilenameFlag     string
	appVersionFlag     string
	verbosityTraceFlag bool
	logFilenameFlag    string

	// this is set by goreleaser
	version string
)

func init() {
	flag.StringVar(&configFlag, "config", "", "Config file (YAML)")
	flag.IntVar(&portFlag, "port", 0, "Port to listen on (overrides config)")
	flag.StringVar(&originFlag, "origin", "", "Origin URL to proxy to (overrides config)")
	flag.StringVar(&dbFilenameFlag, "db", "", "Cache storage path (use 'memory' for in-memory storage)")
	flag.StringVar(&appVersionFlag, "app-version", "", "Version of the application shell to serve (overrides config)")
	flag.BoolVar(&verbosityTraceFlag, "vv", false, "Verbosity: trace logging")
	flag.StringVar(&logFilenameFlag, "log-file", "", "Log file to use (in addition to stdout)")

	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), `Usage: %s [flags] [command]

Commands:
  serve                     proxy the application with offline caching (default)
  tree                      print folders and notes
  mkdir NAME [PARENT_ID]    create a folder
  note TITLE FOLDER_ID      create an empty note
  edit NOTE_ID CONTENT      replace the content of a note
  rm-folder ID              delete a folder with everything in it
  rm-note ID                delete a note
  sync                      submit writes queued while offline

Flags:
`, os.Args[0])
		flag.PrintDefaults()
	}

	if version == "" {
		version = "DEV"
	}
}

func main() {
	flag.Parse()

	// set log level
	logLevel := zerolog.DebugLevel
	if verbosityTraceFlag {
		logLevel = zerolog.TraceLevel
	}

	// set up log output to stderr, keeping stdout for command output
	// also output to logfile if specified
	logOutputs := make([]io.Writer, 0)
	logOutputs = append(logOutputs, zerolog.ConsoleWriter{Out: os.Stderr})
	if logFilenameFlag != "" {
		if logFileOutput, err := os.OpenFile(logFilenameFlag, os.O_APPEND|os.O_WRONLY|os.O_CREATE, 0644); err != nil {
			log.Fatal().Err(err).Msg("Cannot open log file")
		} else {
			logOutputs = append(logOutputs, logFileOutput)
		}
	}
	multiWriter := zerolog.MultiLevelWriter(logOutputs...)
	log.Logger = log.Level(logLevel).Output(multiWriter).
		With().Str("build", version).Logger()

	cfg, err := config.Load(configFlag)
	if err != nil {
		log.Fatal().Err(err).Msg("Could not load config")
	}
	applyFlags(&cfg)
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid config")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	args := flag.Args()
	command := "serve"
	if len(args) > 0 {
		command, args = args[0], args[1:]
	}
	if command == "serve" {
		err = serve(ctx, cfg)
	} else {
		err = runNotesCommand(ctx, cfg, command, args, os.Stdout)
	}
	if err != nil {
		log.Error().Err(err).Str("command", command).Msg("Failed")
		os.Exit(1)
	}
}

// applyFlags overrides config values with the flags that were set.
func applyFlags(cfg *config.Config) {
	if portFlag != 0 {
		cfg.Port = portFlag
	}
	if originFlag != "" {
		cfg.Origin = originFlag
	}
	if appVersionFlag != "" {
		cfg.Version = appVersionFlag
	}
	if dbFilenameFlag == "memory" {
		cfg.Storage.Provider = config.ProviderMemory
	} else if dbFilenameFlag != "" {
		cfg.Storage.Path = dbFilenameFlag
	}
}
