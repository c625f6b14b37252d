// Package bus serves post-action evaluations over NATS request/reply.
//
// A request on postaction.evaluate.<name> carries an ArtifactChange; the
// reply is {"update", "digest"} on success or {"error": {"kind", "message"}}.
// Delivery is core NATS: at most once, no redelivery.
package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/Mindburn-Labs/tracker-postaction/pkg/catalog"
	"github.com/Mindburn-Labs/tracker-postaction/pkg/contracts"
	"github.com/Mindburn-Labs/tracker-postaction/pkg/executor"
)

// SubjectPrefix is followed by the post-action name.
const SubjectPrefix = "postaction.evaluate."

// DefaultQueue is the queue group shared by every replica.
const DefaultQueue = "postactiond"

// Subject returns the request subject for a post-action.
func Subject(name string) string { return SubjectPrefix + name }

// CatalogSource yields the catalog in force.
type CatalogSource interface {
	Current() *catalog.Catalog
}

// Evaluator runs a catalog entry against a raw change.
type Evaluator interface {
	ExecuteJSON(ctx context.Context, entry catalog.Entry, raw []byte) (*executor.Result, error)
}

// Reply is the response document.
type Reply struct {
	Update  *contracts.ArtifactUpdate `json:"update,omitempty"`
	Digest  string                    `json:"digest,omitempty"`
	Skipped bool                      `json:"skipped,omitempty"`
	Error   *executor.Failure         `json:"error,omitempty"`
}

// Options configures a Service.
type Options struct {
	Queue string
	// Timeout bounds one evaluation. Zero means 30s.
	Timeout time.Duration
	Logger  *slog.Logger
}

// Service answers evaluation requests.
type Service struct {
	catalog   CatalogSource
	evaluator Evaluator
	queue     string
	timeout   time.Duration
	logger    *slog.Logger

	sub *nats.Subscription
}

// NewService builds a Service. Start subscribes it.
func NewService(cat CatalogSource, ev Evaluator, opts Options) *Service {
	if opts.Queue == "" {
		opts.Queue = DefaultQueue
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Service{
		catalog:   cat,
		evaluator: ev,
		queue:     opts.Queue,
		timeout:   opts.Timeout,
		logger:    opts.Logger.With("component", "bus"),
	}
}

// Start joins the queue group on every post-action subject.
func (s *Service) Start(nc *nats.Conn) error {
	sub, err := nc.QueueSubscribe(SubjectPrefix+"*", s.queue, s.onMsg)
	if err != nil {
		return fmt.Errorf("subscribe %s*: %w", SubjectPrefix, err)
	}
	s.sub = sub
	s.logger.Info("listening", "subject", SubjectPrefix+"*", "queue", s.queue)
	return nil
}

// Stop drains the subscription.
func (s *Service) Stop() error {
	if s.sub == nil {
		return nil
	}
	return s.sub.Drain()
}

func (s *Service) onMsg(msg *nats.Msg) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	reply := s.Handle(ctx, msg.Subject, msg.Data)
	if msg.Reply == "" {
		return
	}
	data, err := json.Marshal(reply)
	if err != nil {
		s.logger.Error("encode reply", "error", err, "subject", msg.Subject)
		return
	}
	if err := msg.Respond(data); err != nil {
		s.logger.Warn("respond failed", "error", err, "subject", msg.Subject)
	}
}

// Handle evaluates one request. It never fails; errors become replies.
func (s *Service) Handle(ctx context.Context, subject string, data []byte) Reply {
	name, ok := strings.CutPrefix(subject, SubjectPrefix)
	if !ok || name == "" || strings.Contains(name, ".") {
		return failure(executor.KindUnknownAction, fmt.Sprintf("subject %q does not name a post-action", subject))
	}
	cat := s.catalog.Current()
	if cat == nil {
		return failure(executor.KindInternal, "no catalog loaded")
	}
	entry, ok := cat.Get(name)
	if !ok {
		return failure(executor.KindUnknownAction, fmt.Sprintf("unknown post-action %q", name))
	}

	res, err := s.evaluator.ExecuteJSON(ctx, entry, data)
	if err != nil {
		f := executor.Classify(err)
		if f.Class == executor.ClassInternal || f.Class == executor.ClassModule {
			s.logger.WarnContext(ctx, "evaluation failed", "action", name, "error", err)
		}
		return Reply{Error: &f}
	}
	return Reply{Update: &res.Update, Digest: res.Digest, Skipped: res.Skipped}
}

func failure(kind, msg string) Reply {
	return Reply{Error: &executor.Failure{Kind: kind, Message: msg}}
}
