package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/Mindburn-Labs/tracker-postaction/pkg/config"
	"github.com/Mindburn-Labs/tracker-postaction/pkg/contracts"
	"github.com/Mindburn-Labs/tracker-postaction/pkg/executor"
)

type appliedResult struct {
	Result  *executor.Result        `json:"result"`
	Applied contracts.ArtifactState `json:"applied"`
}

// runEvalCmd implements `postactiond eval`.
//
// Exit codes:
//
//	0 = evaluated, Result JSON on stdout
//	    (with --apply, {"result": Result, "applied": ArtifactState})
//	1 = evaluation failed
//	2 = usage or setup error
func runEvalCmd(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("eval", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		action      string
		inputPath   string
		catalogPath string
		apply       bool
	)
	cmd.StringVar(&action, "action", "", "Post-action name (REQUIRED)")
	cmd.StringVar(&inputPath, "input", "-", "ArtifactChange JSON file, - for stdin")
	cmd.StringVar(&catalogPath, "catalog", "", "Catalog file (default: CATALOG_PATH)")
	cmd.BoolVar(&apply, "apply", false, "Also print the current state with the update's list values applied")

	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if action == "" {
		_, _ = fmt.Fprintln(stderr, "Error: --action is required")
		cmd.Usage()
		return 2
	}

	cfg, err := config.Load()
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	if catalogPath != "" {
		cfg.CatalogPath = catalogPath
	}
	cfg.CatalogWatch = false
	cfg.OTelEnabled = false

	var raw []byte
	if inputPath == "-" {
		raw, err = io.ReadAll(stdin)
	} else {
		raw, err = os.ReadFile(inputPath)
	}
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: read input: %v\n", err)
		return 2
	}

	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	d, err := buildDeps(ctx, cfg, logger)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	defer d.close(ctx)

	entry, ok := d.catalog.Current().Get(action)
	if !ok {
		_, _ = fmt.Fprintf(stderr, "Error: unknown post-action %q\n", action)
		return 2
	}

	res, err := d.executor.ExecuteJSON(ctx, entry, raw)
	if err != nil {
		f := executor.Classify(err)
		if f.Class == executor.ClassInternal {
			f.Message = err.Error()
		}
		_, _ = fmt.Fprintf(stderr, "%s: %s\n", f.Kind, f.Message)
		return 1
	}

	var out any = res
	if apply {
		var change contracts.ArtifactChange
		if err := json.Unmarshal(raw, &change); err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
			return 2
		}
		out = appliedResult{Result: res, Applied: change.Current.Apply(res.Update)}
	}

	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	return 0
}
