// Command jcrdb-import loads a fixture, a JSON array of stored node
// documents, into a workspace of a jcrdb data directory.
//
// The server must not be running on the same data directory.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/maruel/jcrdb/internal/cli"
	"github.com/maruel/jcrdb/internal/config"
	"github.com/maruel/jcrdb/internal/repository"
)

func main() {
	if err := mainImpl(); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "jcrdb-import: %v\n", err)
		os.Exit(1)
	}
}

func mainImpl() error {
	dataDir := flag.String("data-dir", "./data", "Data directory")
	workspace := flag.String("workspace", "", "Workspace to import into; defaults to the configured default workspace")
	reset := flag.Bool("reset", false, "Empty the workspace first")
	author := flag.String("author", "jcrdb-import", "Author recorded in the journal")
	verbose := flag.Bool("v", false, "Log debug messages")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: jcrdb-import [flags] <fixture.json | ->\n")
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() != 1 {
		flag.Usage()
		return errors.New("expected exactly one fixture file")
	}

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	cli.SetupLogging(level)
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var r io.Reader = os.Stdin
	if name := flag.Arg(0); name != "-" {
		f, err := os.Open(name) //nolint:gosec // G304: the file is chosen by the operator
		if err != nil {
			return err
		}
		defer func() { _ = f.Close() }()
		r = f
	}
	docs, err := repository.ReadFixture(r)
	if err != nil {
		return err
	}

	cfg, err := config.Load(*dataDir)
	if err != nil {
		return err
	}
	repo, closeDocs, err := cfg.Open(*dataDir)
	if err != nil {
		return err
	}
	start := time.Now()
	n, err := repo.Import(ctx, *workspace, docs, *reset, *author)
	if err2 := closeDocs(); err == nil {
		err = err2
	}
	if err != nil {
		return err
	}
	slog.DebugContext(ctx, "Import done", "duration", cli.Since(start))
	fmt.Printf("imported %d node(s)\n", n)
	return nil
}
