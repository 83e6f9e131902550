package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/opentalon/aspri/internal/domain"
)

const (
	DefaultTransactionLimit = 5
	DefaultScheduleLimit    = 10
	DefaultNoteLimit        = 5
	maxListLimit            = 50
)

func clampLimit(n, def int) int {
	if n <= 0 {
		return def
	}
	if n > maxListLimit {
		return maxListLimit
	}
	return n
}

// FinanceSummary is the income and expense of a period plus the balance
// across all of the user's accounts.
type FinanceSummary struct {
	Period       domain.Period
	Income       int64
	Expense      int64
	Net          int64
	TotalBalance int64
}

func (e *Executor) FinanceSummary(ctx context.Context, userID string, p domain.Period) (FinanceSummary, error) {
	r := p.Range(e.clock())
	sum, err := e.deps.Finance.Summarize(ctx, userID, r)
	if err != nil {
		return FinanceSummary{}, fmt.Errorf("finance summary: %w", err)
	}
	total, err := e.deps.Finance.TotalBalance(ctx, userID)
	if err != nil {
		return FinanceSummary{}, fmt.Errorf("finance summary: %w", err)
	}
	return FinanceSummary{
		Period:       p,
		Income:       sum.Income,
		Expense:      sum.Expense,
		Net:          sum.Net(),
		TotalBalance: total,
	}, nil
}

// Transactions lists the period's transactions, newest first. An empty
// txType includes both kinds.
func (e *Executor) Transactions(ctx context.Context, userID string, p domain.Period, txType domain.TxType, limit int) ([]domain.Transaction, error) {
	r := p.Range(e.clock())
	return e.deps.Finance.ListTransactions(ctx, domain.TransactionFilter{
		UserID: userID,
		Range:  &r,
		TxType: txType,
		Limit:  clampLimit(limit, DefaultTransactionLimit),
	})
}

// Schedules lists the period's schedules by start time.
func (e *Executor) Schedules(ctx context.Context, userID string, p domain.Period) ([]domain.Schedule, error) {
	r := p.Range(e.clock())
	return e.deps.Schedules.ListSchedules(ctx, domain.ScheduleFilter{
		UserID: userID,
		Range:  &r,
		Limit:  DefaultScheduleLimit,
	})
}

// Notes lists notes newest first, optionally filtered by a title/content
// search and by tags (all must match).
func (e *Executor) Notes(ctx context.Context, userID, search string, tags []string, limit int) ([]domain.Note, error) {
	return e.deps.Notes.ListNotes(ctx, domain.NoteFilter{
		UserID: userID,
		Search: search,
		Tags:   tags,
		Limit:  clampLimit(limit, DefaultNoteLimit),
	})
}

// Location is the zone dates are shown in.
func (e *Executor) Location() *time.Location { return e.loc }
