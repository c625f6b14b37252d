package main

import (
	"fmt"
	"io"

	"github.com/Mindburn-Labs/tracker-postaction/pkg/catalog"
	"github.com/Mindburn-Labs/tracker-postaction/pkg/postaction/builtin"
	"github.com/Mindburn-Labs/tracker-postaction/pkg/trigger"
)

func runCatalogCmd(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 || args[0] != "check" {
		_, _ = fmt.Fprintln(stderr, "Usage: postactiond catalog check FILE")
		return 2
	}

	ev, err := trigger.NewEvaluator()
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	c, err := catalog.LoadFile(args[1], catalog.Checker{Builtins: builtin.Registry(), Conditions: ev})
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Invalid: %v\n", err)
		return 1
	}

	_, _ = fmt.Fprintf(stdout, "OK: %s (version %s, %d post-actions)\n", args[1], c.Version, len(c.PostActions))
	for _, e := range c.PostActions {
		target := "builtin " + e.Builtin
		if e.IsModule() {
			target = fmt.Sprintf("module %s@%s", e.Module.Name, e.Module.Hash)
		}
		_, _ = fmt.Fprintf(stdout, "  %-24s %s\n", e.Name, target)
	}
	return 0
}
