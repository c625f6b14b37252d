// Command postactiond hosts tracker post-actions over HTTP and NATS.
package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/Mindburn-Labs/tracker-postaction/pkg/config"
)

// version is set with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(Run(os.Args, os.Stdin, os.Stdout, os.Stderr))
}

// startServer is a variable to allow mocking in tests.
var startServer = runServer

// Run is the entrypoint for testing.
func Run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		return startServer(stderr)
	}

	switch args[1] {
	case "serve", "server":
		return startServer(stderr)
	case "eval":
		return runEvalCmd(args[2:], stdin, stdout, stderr)
	case "module":
		return runModuleCmd(args[2:], stdout, stderr)
	case "catalog":
		return runCatalogCmd(args[2:], stdout, stderr)
	case "version", "--version":
		_, _ = fmt.Fprintf(stdout, "postactiond %s\n", version)
		return 0
	case "help", "--help", "-h":
		printUsage(stdout)
		return 0
	default:
		_, _ = fmt.Fprintf(stderr, "Unknown command: %s\n", args[1])
		printUsage(stderr)
		return 2
	}
}

func printUsage(w io.Writer) {
	_, _ = fmt.Fprintln(w, "Usage: postactiond <command> [flags]")
	_, _ = fmt.Fprintln(w, "")
	_, _ = fmt.Fprintln(w, "Commands:")
	printCommand(w, "serve", "Run the HTTP and NATS server (default)")
	printCommand(w, "eval", "Evaluate one post-action (--action, --input, --catalog, --apply)")
	printCommand(w, "module", "Manage sandbox modules (put FILE | get HASH)")
	printCommand(w, "catalog", "Validate a catalog file (check FILE)")
	printCommand(w, "version", "Show version information")
	printCommand(w, "help", "Show this help")
}

func printCommand(w io.Writer, name, desc string) {
	_, _ = fmt.Fprintf(w, "  %-10s %s\n", name, desc)
}

// newLogger builds the process logger from LOG_LEVEL and LOG_FORMAT.
func newLogger(cfg *config.Config, w io.Writer) *slog.Logger {
	level, _ := cfg.SlogLevel()
	opts := &slog.HandlerOptions{Level: level}
	var h slog.Handler
	if cfg.LogFormat == "text" {
		h = slog.NewTextHandler(w, opts)
	} else {
		h = slog.NewJSONHandler(w, opts)
	}
	return slog.New(h).With("service", "postactiond")
}
