// Package cli holds what the jcrdb commands share: logging setup and build
// information.
package cli

import (
	"fmt"
	"log/slog"
	"os"
	"runtime/debug"
	"strings"
	"time"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
)

// SetupLogging installs a colored slog handler on stderr as the default
// logger. Color is disabled when stderr is not a terminal. Timestamps are
// dropped under systemd, which adds its own.
func SetupLogging(level slog.Leveler) {
	noTime := os.Getenv("JOURNAL_STREAM") != ""
	h := tint.NewHandler(colorable.NewColorable(os.Stderr), &tint.Options{
		Level:      level,
		TimeFormat: "15:04:05.000",
		NoColor:    !isatty.IsTerminal(os.Stderr.Fd()),
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if len(groups) == 0 && a.Key == slog.TimeKey && noTime {
				return slog.Attr{}
			}
			if isEmpty(a.Value) {
				return slog.Attr{}
			}
			return a
		},
	})
	slog.SetDefault(slog.New(h))
}

// isEmpty reports attributes not worth printing: empty strings, zero
// durations, nil values and loopback client addresses.
func isEmpty(v slog.Value) bool {
	switch v.Kind() {
	case slog.KindString:
		s := v.String()
		return s == "" || s == "127.0.0.1" || s == "::1"
	case slog.KindDuration:
		return v.Duration() == 0
	case slog.KindAny:
		return v.Any() == nil
	default:
		return false
	}
}

// IsTerminal reports whether f is an interactive terminal.
func IsTerminal(f *os.File) bool {
	return isatty.IsTerminal(f.Fd())
}

// Version describes the build of the running binary.
func Version(name string) string {
	version, revision, modified, goVersion := "dev", "unknown", false, "unknown"
	if info, ok := debug.ReadBuildInfo(); ok {
		if v := info.Main.Version; v != "" && v != "(devel)" {
			version = v
		}
		goVersion = info.GoVersion
		for _, s := range info.Settings {
			switch s.Key {
			case "vcs.revision":
				revision = s.Value
			case "vcs.modified":
				modified = s.Value == "true"
			}
		}
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s\n  Go version: %s\n  Revision:   %s\n", name, version, goVersion, revision)
	if modified {
		b.WriteString("  Modified:   true\n")
	}
	return b.String()
}

// Since formats the time elapsed since start for logs.
func Since(start time.Time) time.Duration {
	return time.Since(start).Round(time.Millisecond)
}
