package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/Mindburn-Labs/tracker-postaction/pkg/artifacts"
)

func runModuleCmd(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		_, _ = fmt.Fprintln(stderr, "Usage: postactiond module <put FILE|get HASH>")
		return 2
	}

	ctx := context.Background()
	store, err := artifacts.NewStoreFromEnv(ctx)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	switch args[0] {
	case "put":
		data, err := os.ReadFile(args[1])
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
			return 2
		}
		hash, err := store.Store(ctx, data)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: store module: %v\n", err)
			return 1
		}
		_, _ = fmt.Fprintln(stdout, hash)
		return 0
	case "get":
		data, err := store.Get(ctx, args[1])
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		_, _ = stdout.Write(data)
		return 0
	default:
		_, _ = fmt.Fprintf(stderr, "Unknown module subcommand: %s\n", args[0])
		return 2
	}
}
