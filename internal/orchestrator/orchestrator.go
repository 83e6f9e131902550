// Package orchestrator runs one chat turn: it resolves the thread's pending
// action, classifies the message, executes or stages mutations and renders
// the reply. ProcessMessage never fails; every path ends in reply text.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/opentalon/aspri/internal/capability"
	"github.com/opentalon/aspri/internal/domain"
	"github.com/opentalon/aspri/internal/executor"
	"github.com/opentalon/aspri/internal/intent"
	"github.com/opentalon/aspri/internal/metrics"
	"github.com/opentalon/aspri/internal/pending"
	"github.com/opentalon/aspri/internal/provider"
)

const (
	// FreeTextHistory is how many history entries the free-text reply sees.
	FreeTextHistory = 10

	freeTextTemperature = 0.8
	freeTextMaxTokens   = 1500

	personalizeTemperature = 0.7
	personalizeMaxTokens   = 800
)

type Classifier interface {
	Classify(ctx context.Context, history []provider.Message, message string, caps []capability.Descriptor) intent.Intent
}

type Capabilities interface {
	ForUser(ctx context.Context, userID string) []capability.Descriptor
}

// Executor applies confirmed actions and serves the read views.
type Executor interface {
	Execute(ctx context.Context, a *pending.Action) executor.Result
	FinanceSummary(ctx context.Context, userID string, p domain.Period) (executor.FinanceSummary, error)
	Transactions(ctx context.Context, userID string, p domain.Period, txType domain.TxType, limit int) ([]domain.Transaction, error)
	Schedules(ctx context.Context, userID string, p domain.Period) ([]domain.Schedule, error)
	Notes(ctx context.Context, userID, search string, tags []string, limit int) ([]domain.Note, error)
	Location() *time.Location
}

// Deps are the collaborators of a turn. Profiles may be nil.
type Deps struct {
	Classifier   Classifier
	Capabilities Capabilities
	Pending      *pending.Machine
	Executor     Executor
	Profiles     domain.ProfileRepository
	// Provider and Model produce free-text replies.
	Provider provider.Provider
	Model    string
}

type Orchestrator struct {
	deps    Deps
	rules   *RulesConfig
	metrics *metrics.Metrics
	logger  *zap.Logger
	now     func() time.Time
	timeout time.Duration
	// personalize restates templated replies through the model.
	personalize bool
}

type Option func(*Orchestrator)

// WithRules appends custom rules to the free-text persona prompt.
func WithRules(custom []string) Option {
	return func(o *Orchestrator) { o.rules = NewRulesConfig(custom) }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

func WithLogger(l *zap.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// WithProviderTimeout bounds every model call made during a turn.
func WithProviderTimeout(d time.Duration) Option {
	return func(o *Orchestrator) { o.timeout = d }
}

// WithPersonalize makes every templated reply pass through the model, which
// restates it in the user's persona and language. The template is used
// unchanged whenever that call fails.
func WithPersonalize(on bool) Option {
	return func(o *Orchestrator) { o.personalize = on }
}

func New(deps Deps, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		deps:   deps,
		rules:  DefaultRulesConfig(),
		logger: zap.NewNop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// ProcessMessage handles one turn.
func (o *Orchestrator) ProcessMessage(ctx context.Context, t Turn) Reply {
	r, _ := o.process(ctx, t, nil)
	return r
}

// ProcessMessageStream handles one turn and delivers the reply text through
// onToken. Free-text replies arrive chunk by chunk as the model produces
// them; every other reply arrives as a single token. The returned Reply
// carries the full text either way.
func (o *Orchestrator) ProcessMessageStream(ctx context.Context, t Turn, onToken func(string)) Reply {
	r, streamed := o.process(ctx, t, onToken)
	if !streamed && onToken != nil && r.Text != "" {
		onToken(r.Text)
	}
	return r
}

func (o *Orchestrator) process(ctx context.Context, t Turn, onToken func(string)) (r Reply, streamed bool) {
	start := o.now()
	outcome := metrics.OutcomeReply
	defer func() {
		if rec := recover(); rec != nil {
			o.logger.Error("orchestrator: turn panicked",
				zap.String("thread_id", t.ThreadID), zap.Any("panic", rec),
				zap.ByteString("stack", debug.Stack()))
			r, streamed, outcome = Reply{Text: msgInternalFailure}, false, metrics.OutcomeFailed
		}
		switch {
		case r.ActionTaken:
			outcome = metrics.OutcomeExecuted
		case r.Pending != nil:
			outcome = metrics.OutcomeStaged
		}
		o.metrics.Turn(outcome, o.now().Sub(start))
	}()

	p := personaOf(o.profile(ctx, t.UserID))

	open, err := o.deps.Pending.Open(ctx, t.UserID, t.ThreadID)
	if err != nil {
		o.logger.Warn("orchestrator: pending lookup failed", zap.String("thread_id", t.ThreadID), zap.Error(err))
		open = nil
	}

	var (
		in   intent.Intent
		caps []capability.Descriptor
	)
	if open != nil {
		in = fastPath(t.Message)
	}
	if in.Action == "" {
		caps = o.deps.Capabilities.ForUser(ctx, t.UserID)
		cctx, cancel := o.providerContext(ctx)
		in = o.deps.Classifier.Classify(cctx, t.History, t.Message, caps)
		cancel()
	}
	o.metrics.Intent(string(in.Module), in.Action)
	o.logger.Debug("orchestrator: intent",
		zap.String("thread_id", t.ThreadID), zap.String("module", string(in.Module)),
		zap.String("action", in.Action), zap.Bool("pending", open != nil))

	if open != nil {
		switch in.Action {
		case intent.ActionConfirm:
			r = o.confirm(ctx, open)
			if !r.ActionTaken {
				outcome = metrics.OutcomeFailed
			}
			return o.personalized(ctx, t, p, r), false
		case intent.ActionCancel:
			return o.personalized(ctx, t, p, o.cancel(ctx, open)), false
		default:
			o.cancelStale(ctx, open)
		}
	}

	switch {
	case in.Action == intent.ActionConfirm || in.Action == intent.ActionCancel:
		r = Reply{Text: msgNothingPending}
	case in.IsView():
		r = o.view(ctx, t.UserID, in, p)
	case in.Module == capability.ModulePlugin || intent.RequiresConfirmation(in.Action):
		r = o.stage(ctx, t, in, caps, p)
	case in.Action == intent.ActionGreeting:
		r = Reply{Text: greetingText(p)}
	case in.Action == intent.ActionHelp:
		r = Reply{Text: helpText(p, in.Entities.String("topic"))}
	default:
		return o.freeText(ctx, t, p, onToken)
	}
	return o.personalized(ctx, t, p, r), false
}

// personalized restates a templated reply through the model when enabled.
// A failed or empty answer keeps the template.
func (o *Orchestrator) personalized(ctx context.Context, t Turn, p persona, r Reply) Reply {
	if !o.personalize || o.deps.Provider == nil || r.Text == "" {
		return r
	}
	cctx, cancel := o.providerContext(ctx)
	defer cancel()
	resp, err := o.deps.Provider.Complete(cctx, &provider.CompletionRequest{
		Model: o.deps.Model,
		Messages: []provider.Message{
			{Role: provider.RoleSystem, Content: o.systemPrompt(p)},
			{Role: provider.RoleUser, Content: personalizePrompt(p, t.Message, r.Text)},
		},
		MaxTokens:   personalizeMaxTokens,
		Temperature: provider.Temperature(personalizeTemperature),
	})
	if err != nil {
		o.metrics.ProviderFailure(o.deps.Provider.ID())
		o.logger.Warn("orchestrator: personalize failed, using template",
			zap.String("provider", o.deps.Provider.ID()), zap.Error(err))
		return r
	}
	if text := strings.TrimSpace(resp.Text()); text != "" {
		r.Text = text
	}
	return r
}

// fastPath recognizes bare confirmations and cancellations without a model
// call. It is only consulted while an action is pending.
func fastPath(message string) intent.Intent {
	switch intent.MatchConfirmation(message) {
	case intent.ReplyConfirm:
		return intent.Intent{Module: capability.ModuleGeneral, Action: intent.ActionConfirm, Entities: intent.Entities{}, Confidence: 1}
	case intent.ReplyCancel:
		return intent.Intent{Module: capability.ModuleGeneral, Action: intent.ActionCancel, Entities: intent.Entities{}, Confidence: 1}
	}
	return intent.Intent{}
}

func (o *Orchestrator) profile(ctx context.Context, userID string) *domain.Profile {
	if o.deps.Profiles == nil {
		return nil
	}
	p, err := o.deps.Profiles.GetProfile(ctx, userID)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			o.logger.Warn("orchestrator: profile lookup failed", zap.String("user_id", userID), zap.Error(err))
		}
		return nil
	}
	return p
}

func (o *Orchestrator) confirm(ctx context.Context, open *pending.Action) Reply {
	a, err := o.deps.Pending.Confirm(ctx, open.ID)
	switch {
	case errors.Is(err, pending.ErrExpired):
		return Reply{Text: failureText(msgExpired)}
	case errors.Is(err, pending.ErrNotPending), errors.Is(err, pending.ErrNotFound):
		return Reply{Text: msgAlreadyResolved}
	case err != nil:
		o.logger.Error("orchestrator: confirm failed", zap.String("pending_id", open.ID), zap.Error(err))
		return Reply{Text: failureText(msgInternalFailure)}
	}

	res := o.deps.Executor.Execute(ctx, a)
	o.metrics.Execution(string(a.Module), res.Success)
	if !res.Success {
		o.logger.Info("orchestrator: action failed",
			zap.String("pending_id", a.ID), zap.String("action", a.ActionType), zap.String("message", res.Message))
		return Reply{Text: failureText(res.Message)}
	}
	o.logger.Info("orchestrator: action executed",
		zap.String("pending_id", a.ID), zap.String("user_id", a.UserID), zap.String("action", a.ActionType))
	return Reply{Text: res.Message, ActionTaken: true}
}

func (o *Orchestrator) cancel(ctx context.Context, open *pending.Action) Reply {
	if err := o.deps.Pending.Cancel(ctx, open.ID); err != nil {
		if errors.Is(err, pending.ErrNotPending) {
			return Reply{Text: msgAlreadyResolved}
		}
		o.logger.Error("orchestrator: cancel failed", zap.String("pending_id", open.ID), zap.Error(err))
		return Reply{Text: failureText(msgInternalFailure)}
	}
	return Reply{Text: msgCancelled}
}

// cancelStale drops the pending action of a user who moved on to something
// else.
func (o *Orchestrator) cancelStale(ctx context.Context, open *pending.Action) {
	if err := o.deps.Pending.Cancel(ctx, open.ID); err != nil && !errors.Is(err, pending.ErrNotPending) {
		o.logger.Warn("orchestrator: stale pending cancel failed", zap.String("pending_id", open.ID), zap.Error(err))
		return
	}
	o.logger.Debug("orchestrator: stale pending cancelled", zap.String("pending_id", open.ID))
}

func (o *Orchestrator) stage(ctx context.Context, t Turn, in intent.Intent, caps []capability.Descriptor, p persona) Reply {
	d, offered := capability.Find(caps, in.Action)
	if !offered {
		if in.Module == capability.ModulePlugin {
			return Reply{Text: fmt.Sprintf(unknownPluginAction, p.call)}
		}
		return Reply{Text: unknownText(p)}
	}

	var desc *capability.Descriptor
	if d.IsPlugin() {
		desc = &d
		if !in.Entities.Has(capability.PluginSlugParam) {
			in.Entities = in.Entities.Clone()
			in.Entities[capability.PluginSlugParam] = d.Source
		}
	}
	if q := clarify(in, desc, p); q != "" {
		o.logger.Debug("orchestrator: entity missing", zap.String("action", in.Action))
		return Reply{Text: q}
	}

	a, err := o.deps.Pending.Stage(ctx, t.UserID, t.ThreadID, in)
	if err != nil {
		o.logger.Error("orchestrator: stage failed",
			zap.String("thread_id", t.ThreadID), zap.String("action", in.Action), zap.Error(err))
		return Reply{Text: failureText(msgStageFailure)}
	}
	return Reply{
		Text:    confirmationText(in, p, o.now(), o.deps.Executor.Location()),
		Pending: summarize(a),
	}
}

func (o *Orchestrator) view(ctx context.Context, userID string, in intent.Intent, p persona) Reply {
	e := in.Entities
	period := domain.ParsePeriod(e.String("period"))
	limit := 0
	if n, ok := e.Number("limit"); ok {
		limit = int(n)
	}
	loc := o.deps.Executor.Location()

	var (
		text string
		err  error
	)
	switch in.Action {
	case "view_balance":
		var s executor.FinanceSummary
		if s, err = o.deps.Executor.FinanceSummary(ctx, userID, period); err == nil {
			text = financeSummaryText(s)
		}
	case "view_transactions":
		var txType domain.TxType
		if e.Has("tx_type") {
			txType = domain.ParseTxType(e.String("tx_type"))
		}
		var list []domain.Transaction
		if list, err = o.deps.Executor.Transactions(ctx, userID, period, txType, limit); err == nil {
			text = transactionsText(list, loc)
		}
	case "view_schedules":
		var list []domain.Schedule
		if list, err = o.deps.Executor.Schedules(ctx, userID, period); err == nil {
			text = schedulesText(list, period, loc)
		}
	case "view_notes":
		var list []domain.Note
		if list, err = o.deps.Executor.Notes(ctx, userID, e.String("search"), e.Strings("tags"), limit); err == nil {
			text = notesText(list, loc)
		}
	default:
		return Reply{Text: unknownText(p)}
	}
	if err != nil {
		o.logger.Error("orchestrator: read failed", zap.String("action", in.Action), zap.Error(err))
		return Reply{Text: failureText(msgReadFailure)}
	}
	return Reply{Text: text}
}

// freeText asks the model for a conversational answer without any tools.
func (o *Orchestrator) freeText(ctx context.Context, t Turn, p persona, onToken func(string)) (Reply, bool) {
	if o.deps.Provider == nil {
		return Reply{Text: unknownText(p)}, false
	}
	req := &provider.CompletionRequest{
		Model:       o.deps.Model,
		Messages:    o.freeTextMessages(t, p),
		MaxTokens:   freeTextMaxTokens,
		Temperature: provider.Temperature(freeTextTemperature),
	}

	cctx, cancel := o.providerContext(ctx)
	defer cancel()

	var (
		text string
		err  error
	)
	stream := onToken != nil && provider.ModelSupports(o.deps.Provider, o.deps.Model, provider.FeatureStreaming)
	if stream {
		req.Stream = true
		text, err = provider.StreamText(cctx, o.deps.Provider, req, onToken)
	} else {
		var resp *provider.CompletionResponse
		if resp, err = o.deps.Provider.Complete(cctx, req); err == nil {
			text = resp.Text()
		}
	}

	if err != nil {
		o.metrics.ProviderFailure(o.deps.Provider.ID())
		o.logger.Warn("orchestrator: free-text reply failed",
			zap.String("provider", o.deps.Provider.ID()), zap.Int("partial_len", len(text)), zap.Error(err))
		if text != "" {
			return Reply{Text: text}, true
		}
		return Reply{Text: msgProviderApology}, false
	}
	if strings.TrimSpace(text) == "" {
		return Reply{Text: unknownText(p)}, false
	}
	return Reply{Text: text}, stream
}

func (o *Orchestrator) freeTextMessages(t Turn, p persona) []provider.Message {
	msgs := make([]provider.Message, 0, FreeTextHistory+2)
	msgs = append(msgs, provider.Message{Role: provider.RoleSystem, Content: o.systemPrompt(p)})
	history := t.History
	if len(history) > FreeTextHistory {
		history = history[len(history)-FreeTextHistory:]
	}
	for _, m := range history {
		if m.Role == provider.RoleSystem || strings.TrimSpace(m.Content) == "" {
			continue
		}
		msgs = append(msgs, m)
	}
	return append(msgs, provider.Message{Role: provider.RoleUser, Content: t.Message})
}

func (o *Orchestrator) systemPrompt(p persona) string {
	now := o.now().In(o.deps.Executor.Location())
	var sb strings.Builder
	fmt.Fprintf(&sb, "You are %s, %s. You help the user manage finances, schedules and notes.\n\n", p.assistant, p.style)
	sb.WriteString("User information:\n")
	if p.name != "" {
		fmt.Fprintf(&sb, "- Name: %s\n", p.name)
	}
	fmt.Fprintf(&sb, "- Preferred address: %s\n\n", p.address())
	sb.WriteString("Current time:\n")
	fmt.Fprintf(&sb, "- Date: %s\n", now.Format("Monday, 02 January 2006"))
	fmt.Fprintf(&sb, "- Time: %s\n\n", now.Format(timeLayout))
	sb.WriteString(o.rules.BuildPromptSection())
	return sb.String()
}

func (o *Orchestrator) providerContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if o.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, o.timeout)
}
