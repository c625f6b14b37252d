// Package postaction defines tracker post-actions: pure rules that look at an
// artifact change and return the field updates the tracker should apply.
//
// A post-action never performs I/O. Receiving the change, applying the
// returned update and surfacing errors to users is the host's job
// (see pkg/executor, pkg/api and pkg/bus).
package postaction
