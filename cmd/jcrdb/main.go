// Command jcrdb serves a content repository over a JSON HTTP API.
//
// The repository lives in -data-dir: jcrdb.yaml, the document store, the
// binary payloads and, when the journal is enabled, a git history of every
// save. jcrdb.yaml is watched; log_level changes apply without a restart.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/maruel/jcrdb/internal/cli"
	"github.com/maruel/jcrdb/internal/config"
	"github.com/maruel/jcrdb/internal/repository"
	"github.com/maruel/jcrdb/internal/server"
	"github.com/maruel/jcrdb/internal/server/ratelimit"
)

const shutdownTimeout = 10 * time.Second

type flags struct {
	addr     string
	dataDir  string
	logLevel string
}

func main() {
	if err := mainImpl(); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "jcrdb: %v\n", err)
		os.Exit(1)
	}
}

func mainImpl() error {
	var f flags
	version := flag.Bool("version", false, "Print version and exit")
	hashPassword := flag.Bool("hash-password", false, "Read a password on stdin, print its hash for jcrdb.yaml and exit")
	flag.StringVar(&f.addr, "http", "localhost:8080", "Address to listen on")
	flag.StringVar(&f.dataDir, "data-dir", "./data", "Data directory")
	flag.StringVar(&f.logLevel, "log-level", "", "Log level (debug, info, warn, error); overrides jcrdb.yaml")
	flag.Parse()
	switch {
	case flag.NArg() != 0:
		return fmt.Errorf("unknown arguments: %v", flag.Args())
	case *version:
		fmt.Print(cli.Version("jcrdb"))
		return nil
	case *hashPassword:
		return printHash()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	level := &slog.LevelVar{}
	cli.SetupLogging(level)
	return serve(ctx, &f, level)
}

func serve(ctx context.Context, f *flags, level *slog.LevelVar) error {
	if err := os.MkdirAll(f.dataDir, 0o750); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}
	cfg, err := config.Load(f.dataDir)
	if err != nil {
		return err
	}
	if err := setLevel(level, cfg.LogLevel, f.logLevel); err != nil {
		return err
	}
	// Only log_level is applied live; other settings need a restart.
	err = config.Watch(ctx, f.dataDir, func(c *config.Config) {
		if err := setLevel(level, c.LogLevel, f.logLevel); err != nil {
			slog.WarnContext(ctx, "Ignoring log level", "err", err)
			return
		}
		slog.InfoContext(ctx, "Configuration reloaded", "log_level", level.Level())
	})
	if err != nil {
		return fmt.Errorf("failed to watch %s: %w", config.FileName, err)
	}

	repo, closeStores, err := cfg.Open(f.dataDir)
	if err != nil {
		return err
	}
	defer func() {
		if err := closeStores(); err != nil {
			slog.ErrorContext(ctx, "Failed to close stores", "err", err)
		}
	}()
	secret, err := cfg.Secret()
	if err != nil {
		return err
	}
	limits := ratelimit.New(ratelimit.Limits{
		Auth:  cfg.RateLimits.AuthRatePerMin,
		Write: cfg.RateLimits.WriteRatePerMin,
		Read:  cfg.RateLimits.ReadRatePerMin,
	})
	defer limits.Close()

	srv := &http.Server{
		Addr: f.addr,
		Handler: server.NewRouter(repo, &server.Options{
			JWTSecret:           secret,
			Limits:              limits,
			MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
		}),
		BaseContext:       func(net.Listener) context.Context { return ctx },
		ReadHeaderTimeout: 10 * time.Second,
	}
	done := make(chan error, 1)
	go func() {
		slog.InfoContext(ctx, "Serving", "addr", f.addr, "backend", cfg.Backend, "data", f.dataDir)
		done <- srv.ListenAndServe()
	}()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
	}
	slog.InfoContext(ctx, "Shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// setLevel applies the -log-level flag when set, else the configured level.
func setLevel(level *slog.LevelVar, configured, override string) error {
	if override != "" {
		configured = override
	}
	l, err := config.ParseLevel(configured)
	if err == nil {
		level.Set(l)
	}
	return err
}

func printHash() error {
	if cli.IsTerminal(os.Stdin) {
		fmt.Fprint(os.Stderr, "Password: ")
	}
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return fmt.Errorf("failed to read password: %w", err)
	}
	hash, err := repository.HashPassword(strings.TrimRight(line, "\r\n"))
	if err != nil {
		return err
	}
	fmt.Println(hash)
	return nil
}
