// Package executor applies confirmed pending actions to the user's data and
// serves the read-only views. Handlers never return errors: every outcome,
// including a panic inside one handler, becomes a Result.
package executor

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"go.uber.org/zap"

	"github.com/opentalon/aspri/internal/capability"
	"github.com/opentalon/aspri/internal/domain"
	"github.com/opentalon/aspri/internal/intent"
	"github.com/opentalon/aspri/internal/pending"
	"github.com/opentalon/aspri/internal/plugin"
)

// Result is the outcome of one executed action.
type Result struct {
	Success bool
	Message string
	Data    map[string]any
}

func ok(msg string, data map[string]any) Result {
	return Result{Success: true, Message: msg, Data: data}
}
func fail(format string, args ...any) Result { return Result{Message: fmt.Sprintf(format, args...)} }

// PluginHandler runs plugin actions.
type PluginHandler interface {
	Handle(ctx context.Context, userID, slug, action string, entities map[string]any) (plugin.Outcome, error)
}

// Deps are the repositories and plugin host the executor writes through.
// Plugins may be nil.
type Deps struct {
	Finance   domain.FinanceRepository
	Schedules domain.ScheduleRepository
	Notes     domain.NoteRepository
	Plugins   PluginHandler
}

type handler func(ctx context.Context, userID string, p intent.Entities) Result

type Executor struct {
	deps     Deps
	guard    *Guard
	now      func() time.Time
	loc      *time.Location
	logger   *zap.Logger
	handlers map[string]handler
}

type Option func(*Executor)

func WithClock(now func() time.Time) Option { return func(e *Executor) { e.now = now } }

// WithLocation sets the zone used for periods and for dates without an offset.
func WithLocation(loc *time.Location) Option {
	return func(e *Executor) {
		if loc != nil {
			e.loc = loc
		}
	}
}

func WithGuard(g *Guard) Option { return func(e *Executor) { e.guard = g } }

func WithLogger(l *zap.Logger) Option {
	return func(e *Executor) {
		if l != nil {
			e.logger = l
		}
	}
}

func New(deps Deps, opts ...Option) *Executor {
	e := &Executor{
		deps:   deps,
		guard:  NewGuard(),
		now:    time.Now,
		loc:    time.Local,
		logger: zap.NewNop(),
	}
	for _, o := range opts {
		o(e)
	}
	e.handlers = map[string]handler{
		"create_transaction": e.createTransaction,
		"update_transaction": e.updateTransaction,
		"delete_transaction": e.deleteTransaction,
		"create_schedule":    e.createSchedule,
		"update_schedule":    e.updateSchedule,
		"delete_schedule":    e.deleteSchedule,
		"create_note":        e.createNote,
		"update_note":        e.updateNote,
		"delete_note":        e.deleteNote,
	}
	return e
}

func (e *Executor) clock() time.Time { return e.now().In(e.loc) }

var unknownAction = map[capability.Module]string{
	capability.ModuleFinance:  "Aksi keuangan tidak dikenali",
	capability.ModuleSchedule: "Aksi jadwal tidak dikenali",
	capability.ModuleNotes:    "Aksi catatan tidak dikenali",
}

// Execute runs a confirmed action for its owner.
func (e *Executor) Execute(ctx context.Context, a *pending.Action) (res Result) {
	log := e.logger.With(
		zap.String("pending_id", a.ID),
		zap.String("user_id", a.UserID),
		zap.String("action", a.ActionType),
		zap.String("module", string(a.Module)),
	)
	defer func() {
		if r := recover(); r != nil {
			log.Error("executor: handler panicked", zap.Any("panic", r), zap.ByteString("stack", debug.Stack()))
			res = fail("Terjadi kesalahan saat menjalankan aksi")
		}
	}()

	payload := a.Payload
	if payload == nil {
		payload = intent.Entities{}
	}

	switch a.Module {
	case capability.ModulePlugin:
		res = e.runPlugin(ctx, a.UserID, a.ActionType, payload)
	case capability.ModuleFinance, capability.ModuleSchedule, capability.ModuleNotes:
		h, found := e.handlers[a.ActionType]
		if m, _ := capability.CoreModuleOf(a.ActionType); !found || m != a.Module {
			res = fail("%s", unknownAction[a.Module])
			break
		}
		res = h(ctx, a.UserID, payload)
	default:
		res = fail("Modul tidak dikenali")
	}

	if res.Success {
		log.Info("executor: action executed")
	} else {
		log.Warn("executor: action failed", zap.String("message", res.Message))
	}
	return res
}

func (e *Executor) runPlugin(ctx context.Context, userID, action string, p intent.Entities) Result {
	slug := p.String(capability.PluginSlugParam)
	if slug == "" || e.deps.Plugins == nil {
		return fail("Plugin tidak dikenali")
	}
	out, err := e.guard.Run(ctx, slug, func(ctx context.Context) (plugin.Outcome, error) {
		return e.deps.Plugins.Handle(ctx, userID, slug, action, p)
	})
	if err != nil {
		e.logger.Warn("executor: plugin failed", zap.String("plugin", slug), zap.Error(err))
		if errors.Is(err, plugin.ErrUnknownPlugin) || errors.Is(err, plugin.ErrNotActive) || errors.Is(err, plugin.ErrUnknownAction) {
			return fail("Plugin tidak dikenali")
		}
		return fail("Plugin gagal dijalankan")
	}
	msg := out.Message
	if msg == "" {
		if out.Success {
			msg = "Aksi plugin berhasil dijalankan!"
		} else {
			msg = "Aksi plugin gagal"
		}
	}
	return Result{Success: out.Success, Message: msg, Data: out.Data}
}

// failure maps a repository error to the user-facing message.
func failure(err error, notFoundMsg, prefix string) Result {
	if errors.Is(err, domain.ErrNotFound) {
		return fail("%s", notFoundMsg)
	}
	return fail("%s: %v", prefix, err)
}
