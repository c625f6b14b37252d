// Command postaction evaluates one built-in post-action. It is built both
// natively and for GOOS=wasip1 GOARCH=wasm, in which case postactiond runs
// it inside the sandbox.
//
// Exit codes:
//
//	0 = update written to stdout
//	1 = evaluation failed, message on stderr
//	2 = usage error or unknown action
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/Mindburn-Labs/tracker-postaction/pkg/contracts"
	"github.com/Mindburn-Labs/tracker-postaction/pkg/postaction/builtin"
)

func main() {
	os.Exit(Run(os.Args, os.Stdin, os.Stdout, os.Stderr))
}

// Run is the entrypoint for testing.
func Run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		printUsage(stderr)
		return 2
	}

	reg := builtin.Registry()
	switch args[1] {
	case "list":
		for _, name := range reg.Names() {
			_, _ = fmt.Fprintln(stdout, name)
		}
		return 0
	case "help", "--help", "-h":
		printUsage(stdout)
		return 0
	}

	action, ok := reg.Get(args[1])
	if !ok {
		_, _ = fmt.Fprintf(stderr, "Unknown post-action: %s\n", args[1])
		printUsage(stderr)
		return 2
	}

	var change contracts.ArtifactChange
	dec := json.NewDecoder(stdin)
	if err := dec.Decode(&change); err != nil {
		_, _ = fmt.Fprintf(stderr, "invalid change: %v\n", err)
		return 1
	}
	if err := change.Validate(); err != nil {
		_, _ = fmt.Fprintf(stderr, "invalid change: %v\n", err)
		return 1
	}

	update, err := action.Evaluate(change)
	if err != nil {
		_, _ = fmt.Fprintln(stderr, err.Error())
		return 1
	}
	if err := json.NewEncoder(stdout).Encode(update.Normalize()); err != nil {
		_, _ = fmt.Fprintf(stderr, "write update: %v\n", err)
		return 1
	}
	return 0
}

func printUsage(w io.Writer) {
	_, _ = fmt.Fprintln(w, "Usage: postaction <action-name> < change.json")
	_, _ = fmt.Fprintln(w, "       postaction list")
}
