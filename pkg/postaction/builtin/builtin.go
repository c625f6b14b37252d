// Package builtin wires every post-action shipped with this module.
package builtin

import (
	"github.com/Mindburn-Labs/tracker-postaction/pkg/postaction"
	"github.com/Mindburn-Labs/tracker-postaction/pkg/postaction/autoassign"
	"github.com/Mindburn-Labs/tracker-postaction/pkg/postaction/parity"
	"github.com/Mindburn-Labs/tracker-postaction/pkg/postaction/risk"
)

// Registry returns a new registry holding the built-in post-actions.
func Registry() *postaction.Registry {
	r := postaction.NewRegistry()
	r.MustRegister(autoassign.New())
	r.MustRegister(risk.New(risk.Name, risk.DefaultLabels()))
	r.MustRegister(risk.New(risk.ResidualName, risk.ResidualLabels()))
	r.MustRegister(parity.New(parity.DefaultLabels()))
	return r
}
