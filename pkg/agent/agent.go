// Package agent wires the reasoning loop, the study store and the artifact
// writers into full conversation turns.
package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/omixlabs/seqdesk/pkg/agent/prompts"
	"github.com/omixlabs/seqdesk/pkg/agent/react"
	"github.com/omixlabs/seqdesk/pkg/agent/tools"
	"github.com/omixlabs/seqdesk/pkg/chart"
	"github.com/omixlabs/seqdesk/pkg/report"
	"github.com/omixlabs/seqdesk/pkg/session"
	"github.com/omixlabs/seqdesk/pkg/store"
)

// DefaultResetInterval is how many completed exchanges a session may
// accumulate before the next turn starts from a wholesale reset.
const DefaultResetInterval = 25

// CapacityReply is the degraded answer for turns the provider could not
// serve. The session is left untouched so the question can simply be
// retried.
const CapacityReply = "The model provider is at capacity right now. Nothing in your session was lost; please ask again in a moment."

type Config struct {
	Logger   *slog.Logger
	LLM      react.LLMClient
	Store    *store.Store
	Renderer *chart.Renderer
	Exporter *report.Exporter

	// Prompts supplies the finalization, summary and correction texts for
	// the loop; nil falls back to the loop's built-in defaults.
	Prompts *prompts.Prompts

	// MaxRounds and MaxTurnDuration are handed through to the loop; zero
	// takes the loop defaults.
	MaxRounds       int
	MaxTurnDuration time.Duration

	// ResetInterval is the exchange count that triggers the wholesale
	// reset. Defaults to DefaultResetInterval; negative disables.
	ResetInterval int

	// WrapToolClient optionally decorates the per-turn tool client, for
	// instance with metrics.
	WrapToolClient func(react.ToolClient) react.ToolClient
}

func (c *Config) Validate() error {
	if c.Logger == nil {
		return errors.New("logger is required")
	}
	if c.LLM == nil {
		return errors.New("LLM client is required")
	}
	if c.Store == nil {
		return errors.New("store is required")
	}
	if c.Renderer == nil {
		return errors.New("chart renderer is required")
	}
	if c.Exporter == nil {
		return errors.New("report exporter is required")
	}
	if c.ResetInterval == 0 {
		c.ResetInterval = DefaultResetInterval
	}
	return nil
}

// TurnResult is the outward outcome of one question.
type TurnResult struct {
	Reply      string
	ChartFile  string
	ReportFile string

	// Degraded marks replies produced without the model, such as the
	// capacity fallback.
	Degraded bool

	// Rounds is the number of model calls the turn consumed.
	Rounds int
}

// Orchestrator owns the pieces shared by every conversation: the model
// client, the study store and the artifact writers. Per-conversation state
// stays in the session the caller passes to Ask.
type Orchestrator struct {
	log *slog.Logger
	cfg Config
}

func New(cfg Config) (*Orchestrator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &Orchestrator{log: cfg.Logger, cfg: cfg}, nil
}

// Ask runs one turn: it applies the periodic reset when the session is due,
// assembles the session-bound tool client, drives the loop and records the
// completed exchange in the session memory. Intermediate model text is
// streamed to output when it is non-nil.
//
// Provider capacity exhaustion does not fail the turn; it yields a
// degraded TurnResult and leaves the session memory untouched.
func (o *Orchestrator) Ask(ctx context.Context, sess *session.Session, question string, output io.Writer) (*TurnResult, error) {
	if o.cfg.ResetInterval > 0 && sess.Memory.Exchanges() >= o.cfg.ResetInterval {
		o.log.Info("session reached reset interval, starting fresh",
			"session_id", sess.ID,
			"exchanges", sess.Memory.Exchanges(),
		)
		o.Reset(sess)
	}

	toolClient, err := o.toolClient(sess)
	if err != nil {
		return nil, err
	}

	loopCfg := react.Config{
		Logger:          o.log,
		LLM:             o.cfg.LLM,
		ToolClient:      toolClient,
		MaxRounds:       o.cfg.MaxRounds,
		MaxTurnDuration: o.cfg.MaxTurnDuration,
	}
	if p := o.cfg.Prompts; p != nil {
		loopCfg.FinalizationPrompt = p.Finalization
		loopCfg.SummaryPrompt = p.Summary
		loopCfg.CorrectionPrompt = p.Correction
	}

	loop, err := react.New(loopCfg)
	if err != nil {
		return nil, err
	}

	messages := append(sess.Memory.Messages(), o.cfg.LLM.CreateUserMessage(question))

	result, err := loop.Run(ctx, messages, output)
	if err != nil {
		if errors.Is(err, react.ErrUpstreamCapacity) {
			o.log.Warn("turn degraded by provider capacity",
				"session_id", sess.ID,
				"error", err,
			)
			return &TurnResult{Reply: CapacityReply, Degraded: true}, nil
		}
		return nil, fmt.Errorf("turn failed: %w", err)
	}

	// Memory keeps the question and the settled answer, not the tool
	// traffic in between; the loop re-derives observations each turn.
	sess.Memory.Append(
		o.cfg.LLM.CreateUserMessage(question),
		o.cfg.LLM.CreateAssistantMessage(result.FinalText),
	)
	exchanges := sess.Memory.CompleteExchange()

	turn := &TurnResult{Reply: result.FinalText, Rounds: result.Rounds}
	turn.ChartFile, turn.ReportFile = artifacts(result.Invocations)

	o.log.Debug("turn complete",
		"session_id", sess.ID,
		"rounds", result.Rounds,
		"exchanges", exchanges,
		"chart_file", turn.ChartFile,
		"report_file", turn.ReportFile,
	)
	return turn, nil
}

// Reset clears the session and the store-level introspection caches.
func (o *Orchestrator) Reset(sess *session.Session) {
	sess.Reset()
	o.cfg.Store.InvalidateIntrospection()
	o.log.Info("session reset", "session_id", sess.ID)
}

func (o *Orchestrator) toolClient(sess *session.Session) (react.ToolClient, error) {
	client, err := tools.NewMultiToolClient(
		tools.NewStoreToolClient(o.cfg.Store, sess.Cache),
		tools.NewArtifactToolClient(o.cfg.Renderer, o.cfg.Exporter, sess.Cache),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to assemble tool client: %w", err)
	}
	if o.cfg.WrapToolClient != nil {
		return o.cfg.WrapToolClient(client), nil
	}
	return client, nil
}

// artifacts pulls the first chart and report filenames out of the turn's
// tool invocations.
func artifacts(invocations []react.ToolInvocation) (chartFile, reportFile string) {
	for _, inv := range invocations {
		if inv.Result.IsError {
			continue
		}
		switch inv.Name {
		case "render_chart":
			if chartFile == "" {
				if name, ok := tools.ChartFilename(inv.Result.Content); ok {
					chartFile = name
				}
			}
		case "export_report":
			if reportFile == "" {
				if name, ok := tools.ReportFilename(inv.Result.Content); ok {
					reportFile = name
				}
			}
		}
	}
	return chartFile, reportFile
}
