package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/always-cache/travelnotes/auth"
	"github.com/always-cache/travelnotes/config"
	"github.com/always-cache/travelnotes/persistence/httpapi"
	"github.com/always-cache/travelnotes/persistence/sqlite"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	// CLI flags
	configFlag         string
	portFlag           int
	dbFilenameFlag     string
	printTokenFlag     string
	verbosityTraceFlag bool
	logFilenameFlag    string

	// this is set by goreleaser
	version string
)

func init() {
	flag.StringVar(&configFlag, "config", "", "Config file (YAML)")
	flag.IntVar(&portFlag, "port", 0, "Port to listen on (overrides config)")
	flag.StringVar(&dbFilenameFlag, "db", "", "Notes DB file name (use 'memory' for in-memory db)")
	flag.StringVar(&printTokenFlag, "print-token", "", "Print a bearer token for the given user id and exit")
	flag.BoolVar(&verbosityTraceFlag, "vv", false, "Verbosity: trace logging")
	flag.StringVar(&logFilenameFlag, "log-file", "", "Log file to use (in addition to stdout)")

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

	// set up log output to stdout
	// also output to logfile if specified
	logOutputs := make([]io.Writer, 0)
	logOutputs = append(logOutputs, zerolog.ConsoleWriter{Out: os.Stdout})
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
	if portFlag != 0 {
		cfg.API.Port = portFlag
	}
	if dbFilenameFlag == "memory" {
		cfg.API.DBPath = ""
	} else if dbFilenameFlag != "" {
		cfg.API.DBPath = dbFilenameFlag
	}
	if err := cfg.ValidateAPI(); err != nil {
		log.Fatal().Err(err).Msg("Invalid config")
	}

	issuer, err := auth.NewIssuer([]byte(cfg.API.JWTSecret), cfg.API.TokenTTL)
	if err != nil {
		log.Fatal().Err(err).Msg("Could not create token issuer")
	}
	if printTokenFlag != "" {
		token, err := issuer.Issue(printTokenFlag)
		if err != nil {
			log.Fatal().Err(err).Msg("Could not issue token")
		}
		fmt.Println(token)
		return
	}

	store, err := sqlite.Open(cfg.API.DBPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Could not open notes db")
	}
	defer store.Close()

	addr := fmt.Sprintf(":%d", cfg.API.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		log.Fatal().Err(err).Str("addr", addr).Msg("Could not listen")
	}
	srv := &http.Server{
		Handler:           httpapi.NewHandler(store, issuer, log.Logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Info().Msgf("Notes API listening on %s", addr)
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("Server error")
			stop()
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}
