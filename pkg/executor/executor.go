// Package executor runs one catalog entry against one artifact change.
package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/Mindburn-Labs/tracker-postaction/pkg/canonicalize"
	"github.com/Mindburn-Labs/tracker-postaction/pkg/catalog"
	"github.com/Mindburn-Labs/tracker-postaction/pkg/contracts"
	"github.com/Mindburn-Labs/tracker-postaction/pkg/observability"
	"github.com/Mindburn-Labs/tracker-postaction/pkg/postaction"
	"github.com/Mindburn-Labs/tracker-postaction/pkg/runtime/sandbox"
	"github.com/Mindburn-Labs/tracker-postaction/pkg/schema"
	"github.com/Mindburn-Labs/tracker-postaction/pkg/trigger"
)

// Outcomes reported in logs and metrics.
const (
	OutcomeUpdated     = "updated"
	OutcomeNoop        = "noop"
	OutcomeSkipped     = "skipped"
	OutcomeConfigError = "config_error"
	OutcomeInputError  = "input_error"
	OutcomeError       = "error"
)

// ErrNoRunner is returned for module entries when no sandbox is configured.
var ErrNoRunner = errors.New("no sandbox configured for module post-actions")

// OutputError reports a module whose stdout is not a valid ArtifactUpdate.
type OutputError struct {
	Action string
	Err    error
}

func (e *OutputError) Error() string {
	return fmt.Sprintf("post-action %q produced an invalid update: %v", e.Action, e.Err)
}

func (e *OutputError) Unwrap() error { return e.Err }

// Result is the outcome of one execution.
type Result struct {
	ExecutionID string                   `json:"execution_id"`
	Action      string                   `json:"action"`
	Update      contracts.ArtifactUpdate `json:"update"`
	Digest      string                   `json:"digest"`
	Skipped     bool                     `json:"skipped,omitempty"`
	SkipReason  string                   `json:"skip_reason,omitempty"`
	Duration    time.Duration            `json:"duration_ns"`
}

// Builtins resolves built-in post-actions by name.
type Builtins interface {
	Get(name string) (postaction.Action, bool)
}

// Options wires an Executor. Runner may be nil when only built-ins are used.
type Options struct {
	Builtins  Builtins
	Runner    sandbox.Runner
	Schema    *schema.Validator
	Trigger   *trigger.Evaluator
	Telemetry *observability.Provider
	Logger    *slog.Logger
}

// Executor is safe for concurrent use.
type Executor struct {
	builtins  Builtins
	runner    sandbox.Runner
	schema    *schema.Validator
	trigger   *trigger.Evaluator
	telemetry *observability.Provider
	logger    *slog.Logger
}

// New validates opts and builds an Executor.
func New(opts Options) (*Executor, error) {
	if opts.Builtins == nil {
		return nil, errors.New("executor: builtins are required")
	}
	if opts.Schema == nil {
		v, err := schema.NewValidator()
		if err != nil {
			return nil, err
		}
		opts.Schema = v
	}
	if opts.Trigger == nil {
		ev, err := trigger.NewEvaluator()
		if err != nil {
			return nil, err
		}
		opts.Trigger = ev
	}
	if opts.Telemetry == nil {
		p, err := observability.New(context.Background(), &observability.Config{}, opts.Logger)
		if err != nil {
			return nil, err
		}
		opts.Telemetry = p
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Executor{
		builtins:  opts.Builtins,
		runner:    opts.Runner,
		schema:    opts.Schema,
		trigger:   opts.Trigger,
		telemetry: opts.Telemetry,
		logger:    opts.Logger.With("component", "executor"),
	}, nil
}

// ExecuteJSON validates raw against the ArtifactChange schema, decodes it and executes.
// Module entries receive raw unchanged on stdin, and triggers see every key it carries.
func (e *Executor) ExecuteJSON(ctx context.Context, entry catalog.Entry, raw []byte) (*Result, error) {
	if err := e.schema.ValidateChange(raw); err != nil {
		return nil, &postaction.InputError{Reason: err.Error()}
	}
	var change contracts.ArtifactChange
	if err := json.Unmarshal(raw, &change); err != nil {
		return nil, &postaction.InputError{Reason: err.Error()}
	}
	return e.run(ctx, entry, change, raw)
}

// Execute runs entry against change. Module entries receive change re-encoded as JSON.
func (e *Executor) Execute(ctx context.Context, entry catalog.Entry, change contracts.ArtifactChange) (*Result, error) {
	return e.run(ctx, entry, change, nil)
}

// run executes entry; raw is the caller's original document, or nil.
func (e *Executor) run(ctx context.Context, entry catalog.Entry, change contracts.ArtifactChange, raw []byte) (*Result, error) {
	kind := "builtin"
	if entry.IsModule() {
		kind = "module"
	}
	ctx, done := e.telemetry.TrackOperation(ctx, "postaction.execute",
		observability.AttrAction.String(entry.Name),
		observability.AttrKind.String(kind),
		observability.AttrTracker.String(strconv.Itoa(change.Tracker.ID)),
	)

	res := &Result{ExecutionID: uuid.NewString(), Action: entry.Name}
	start := time.Now()

	outcome, err := e.execute(ctx, entry, change, raw, res)
	res.Duration = time.Since(start)
	done(outcome, err)

	attrs := []any{
		"execution_id", res.ExecutionID,
		"action", entry.Name,
		"kind", kind,
		"artifact_id", change.ID,
		"tracker_id", change.Tracker.ID,
		"outcome", outcome,
		"duration", res.Duration,
	}
	if err != nil {
		e.logger.WarnContext(ctx, "post-action failed", append(attrs, "error", err)...)
		return nil, err
	}
	e.logger.InfoContext(ctx, "post-action evaluated", append(attrs, "digest", res.Digest, "skip_reason", res.SkipReason)...)
	return res, nil
}

func (e *Executor) execute(ctx context.Context, entry catalog.Entry, change contracts.ArtifactChange, raw []byte, res *Result) (string, error) {
	if err := change.Validate(); err != nil {
		return OutcomeInputError, &postaction.InputError{Reason: err.Error()}
	}

	reason, err := e.skipReason(entry, change, raw)
	if err != nil {
		return OutcomeError, err
	}
	if reason != "" {
		res.Skipped = true
		res.SkipReason = reason
		return OutcomeSkipped, e.seal(res, contracts.NothingToUpdate())
	}

	var update contracts.ArtifactUpdate
	if entry.IsModule() {
		update, err = e.runModule(ctx, entry, change, raw)
	} else {
		update, err = e.runBuiltin(entry, change)
	}
	if err != nil {
		switch {
		case postaction.IsConfigurationError(err):
			return OutcomeConfigError, err
		case postaction.IsInputError(err):
			return OutcomeInputError, err
		default:
			return OutcomeError, err
		}
	}

	if err := e.seal(res, update); err != nil {
		return OutcomeError, err
	}
	if res.Update.IsEmpty() {
		return OutcomeNoop, nil
	}
	return OutcomeUpdated, nil
}

func (e *Executor) skipReason(entry catalog.Entry, change contracts.ArtifactChange, raw []byte) (string, error) {
	if !entry.AppliesTo(change.Tracker.ID) {
		return fmt.Sprintf("not enabled for tracker %d", change.Tracker.ID), nil
	}
	ok, err := e.matches(entry.When, change, raw)
	if err != nil {
		return "", err
	}
	if !ok {
		return "trigger condition not met", nil
	}
	return "", nil
}

func (e *Executor) matches(expr string, change contracts.ArtifactChange, raw []byte) (bool, error) {
	if expr == "" || raw == nil {
		return e.trigger.Matches(expr, change)
	}
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return false, &postaction.InputError{Reason: err.Error()}
	}
	return e.trigger.MatchesDocument(expr, doc)
}

func (e *Executor) runBuiltin(entry catalog.Entry, change contracts.ArtifactChange) (contracts.ArtifactUpdate, error) {
	action, ok := e.builtins.Get(entry.Builtin)
	if !ok {
		return contracts.ArtifactUpdate{}, fmt.Errorf("%w: %q", postaction.ErrUnknownAction, entry.Builtin)
	}
	return action.Evaluate(change)
}

func (e *Executor) runModule(ctx context.Context, entry catalog.Entry, change contracts.ArtifactChange, raw []byte) (contracts.ArtifactUpdate, error) {
	if e.runner == nil {
		return contracts.ArtifactUpdate{}, ErrNoRunner
	}
	input := raw
	if input == nil {
		var err error
		if input, err = json.Marshal(change); err != nil {
			return contracts.ArtifactUpdate{}, fmt.Errorf("encode change: %w", err)
		}
	}

	out, err := e.runner.Run(ctx, sandbox.ModuleRef{
		Name:    entry.Module.Name,
		Hash:    entry.Module.Hash,
		Version: entry.Module.Version,
	}, input, sandbox.Limits{
		MemoryLimitBytes: int64(entry.MemoryLimitMB) << 20,
		Timeout:          entry.Timeout,
	})
	if err != nil {
		return contracts.ArtifactUpdate{}, err
	}

	out = bytes.TrimSpace(out)
	if err := e.schema.ValidateUpdate(out); err != nil {
		return contracts.ArtifactUpdate{}, &OutputError{Action: entry.Name, Err: err}
	}
	var update contracts.ArtifactUpdate
	if err := json.Unmarshal(out, &update); err != nil {
		return contracts.ArtifactUpdate{}, &OutputError{Action: entry.Name, Err: err}
	}
	return update, nil
}

// seal normalizes the update, checks it against the schema and digests it.
func (e *Executor) seal(res *Result, update contracts.ArtifactUpdate) error {
	update = update.Normalize()
	raw, err := json.Marshal(update)
	if err != nil {
		return fmt.Errorf("encode update: %w", err)
	}
	if err := e.schema.ValidateUpdate(raw); err != nil {
		return &OutputError{Action: res.Action, Err: err}
	}
	canon, err := canonicalize.Bytes(raw)
	if err != nil {
		return err
	}
	res.Update = update
	res.Digest = canonicalize.HashBytes(canon)
	return nil
}
