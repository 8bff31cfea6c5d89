package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/BrandonDHaskell/gatelog/internal/config"
	"github.com/BrandonDHaskell/gatelog/internal/db"
	"github.com/BrandonDHaskell/gatelog/internal/gatelog/service"
	"github.com/BrandonDHaskell/gatelog/internal/gatelog/store"
	"github.com/BrandonDHaskell/gatelog/internal/gatelog/store/csvfile"
	sqlitestore "github.com/BrandonDHaskell/gatelog/internal/gatelog/store/sqlite"
	"github.com/BrandonDHaskell/gatelog/internal/httpapi"
	"github.com/BrandonDHaskell/gatelog/internal/serial"
)

// Build variables - set by ldflags during build.
var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	fs := pflag.NewFlagSet("gatelog", pflag.ExitOnError)
	config.RegisterFlags(fs)
	showVersion := fs.Bool("version", false, "print version information")
	_ = fs.Parse(os.Args[1:])

	if *showVersion {
		fmt.Printf("gatelog %s (%s)\n", version, commit)
		return
	}

	cfg, err := config.Load(fs)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(2)
	}

	logger := log.New(os.Stdout, "gatelog ", log.LstdFlags)

	// run owns every resource; os.Exit only happens after its defers ran.
	if err := run(cfg, logger); err != nil {
		logger.Printf("unexpected error: %v", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *log.Logger) error {
	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancelCause(sigCtx)
	defer cancel(nil)

	logger.Printf("------------------------------------------")
	logger.Printf("looking for controller on %s (%d baud)...", cfg.Device, cfg.BaudRate)

	port, err := serial.Open(ctx, serial.Config{
		Device:      cfg.Device,
		BaudRate:    cfg.BaudRate,
		Delimiter:   cfg.Delimiter,
		ReadTimeout: cfg.ReadTimeout,
		Settle:      cfg.Settle,
	})
	if err != nil {
		if ctx.Err() != nil {
			logger.Printf("shutting down...")
			return nil
		}
		logger.Printf("ERROR: controller not found on %s; check the cable and the device path", cfg.Device)
		return err
	}
	defer port.Close()

	logger.Printf("connected to %s", port.Device())

	csvStore := csvfile.New(cfg.OutPath)
	if err := csvStore.EnsureInitialized(ctx); err != nil {
		return fmt.Errorf("prepare access log: %w", err)
	}

	deps := service.Dependencies{
		Logger: logger,
		Store:  csvStore,
	}

	var mirror store.AuditStore
	if cfg.DBPath != "" {
		conn, err := db.Open(ctx, db.Config{Path: cfg.DBPath})
		if err != nil {
			return fmt.Errorf("open audit db: %w", err)
		}
		defer conn.Close()

		writer := db.NewWorker(conn)
		defer writer.Close()

		mirror = sqlitestore.NewAccessEventStore(conn, writer, cfg.Device)
		deps.Mirror = mirror

		pruner := service.NewRetentionPruner(mirror, service.PrunerConfig{
			RetentionDays: cfg.RetentionDays,
			IntervalHours: cfg.PruneIntervalHours,
		}, logger)
		pruner.Start(ctx)
		defer pruner.Stop()

		logger.Printf("audit mirror: %s", cfg.DBPath)
	}

	router := service.NewRouter(deps)

	if cfg.HTTPAddr != "" {
		if mirror == nil {
			logger.Printf("http-addr is set but db-path is empty; query API disabled")
		} else {
			srv := httpapi.NewServer(httpapi.Dependencies{
				Logger:  logger,
				Addr:    cfg.HTTPAddr,
				Records: mirror,
				Stats:   router.Stats,
			})
			go func() {
				logger.Printf("query API listening on %s", cfg.HTTPAddr)
				if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					cancel(fmt.Errorf("query API: %w", err))
				}
			}()
			defer func() {
				shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
				defer done()
				_ = srv.Shutdown(shutdownCtx)
			}()
		}
	}

	logger.Printf("access log: %s", cfg.OutPath)
	logger.Printf("logging active. press Ctrl+C to exit.")
	logger.Printf("------------------------------------------")

	if err := router.Run(ctx, port); err != nil {
		return err
	}
	if cause := context.Cause(ctx); cause != nil && !errors.Is(cause, context.Canceled) {
		return cause
	}

	st := router.Stats()
	logger.Printf("shutting down... (logged=%d alarms=%d ignored=%d malformed=%d dropped=%d)",
		st.Logged, st.Alarms, st.Ignored, st.Malformed, st.Dropped)
	return nil
}
