// Package domain defines the finance, schedule, notes and profile records
// the assistant acts on, and the repository contracts that persist them.
// Every repository call is scoped by user id; a row that belongs to another
// user is reported as ErrNotFound.
package domain

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned for missing rows and for rows owned by someone else.
var ErrNotFound = errors.New("not found")

type TxType string

const (
	Income  TxType = "income"
	Expense TxType = "expense"
)

// ParseTxType maps loose input to a TxType, defaulting to Expense.
func ParseTxType(s string) TxType {
	switch s {
	case "income", "pemasukan", "in":
		return Income
	}
	return Expense
}

type Account struct {
	ID             string
	UserID         string
	Name           string
	Type           string
	Currency       string
	InitialBalance int64
	CreatedAt      time.Time
}

type Category struct {
	ID        string
	UserID    string
	Name      string
	TxType    TxType
	Icon      string
	Color     string
	CreatedAt time.Time
}

// Transaction amounts are whole rupiah.
type Transaction struct {
	ID           string
	UserID       string
	AccountID    string
	CategoryID   string
	CategoryName string
	TxType       TxType
	Amount       int64
	Note         string
	OccurredAt   time.Time
	CreatedAt    time.Time
}

type Schedule struct {
	ID          string
	UserID      string
	Title       string
	Description string
	Location    string
	StartTime   time.Time
	EndTime     time.Time
	CreatedAt   time.Time
}

type Note struct {
	ID        string
	UserID    string
	Title     string
	Content   string
	Tags      []string
	Pinned    bool
	CreatedAt time.Time
}

// Profile holds how the assistant addresses the user.
type Profile struct {
	UserID         string
	Name           string
	CallPreference string
	AssistantName  string
	// Persona describes the assistant's character, e.g. "a cheerful big
	// sister who keeps things short".
	Persona string
}

// Summary aggregates transactions over a range.
type Summary struct {
	Income  int64
	Expense int64
}

func (s Summary) Net() int64 { return s.Income - s.Expense }

type TransactionFilter struct {
	UserID string
	Range  *Range
	TxType TxType
	Limit  int
}

type ScheduleFilter struct {
	UserID string
	Range  *Range
	Limit  int
}

type NoteFilter struct {
	UserID string
	Search string
	Tags   []string
	Limit  int
}

type FinanceRepository interface {
	FirstAccount(ctx context.Context, userID string) (*Account, error)
	CreateAccount(ctx context.Context, a *Account) error
	// FindCategory matches name as a case-insensitive substring.
	FindCategory(ctx context.Context, userID string, txType TxType, name string) (*Category, error)
	CreateCategory(ctx context.Context, c *Category) error

	CreateTransaction(ctx context.Context, t *Transaction) error
	GetTransaction(ctx context.Context, userID, id string) (*Transaction, error)
	// LatestTransactionMatching returns the most recently created
	// transaction whose note contains text, case-insensitively.
	LatestTransactionMatching(ctx context.Context, userID, text string) (*Transaction, error)
	UpdateTransaction(ctx context.Context, t *Transaction) error
	DeleteTransaction(ctx context.Context, userID, id string) error
	// ListTransactions orders by occurred_at, newest first.
	ListTransactions(ctx context.Context, f TransactionFilter) ([]Transaction, error)
	Summarize(ctx context.Context, userID string, r Range) (Summary, error)
	// TotalBalance is the sum of initial balances plus all income minus
	// all expense.
	TotalBalance(ctx context.Context, userID string) (int64, error)
}

type ScheduleRepository interface {
	CreateSchedule(ctx context.Context, s *Schedule) error
	GetSchedule(ctx context.Context, userID, id string) (*Schedule, error)
	// LatestScheduleMatching returns the most recently created schedule
	// whose title contains text, case-insensitively.
	LatestScheduleMatching(ctx context.Context, userID, text string) (*Schedule, error)
	UpdateSchedule(ctx context.Context, s *Schedule) error
	DeleteSchedule(ctx context.Context, userID, id string) error
	// ListSchedules orders by start_time ascending.
	ListSchedules(ctx context.Context, f ScheduleFilter) ([]Schedule, error)
}

type NoteRepository interface {
	CreateNote(ctx context.Context, n *Note) error
	GetNote(ctx context.Context, userID, id string) (*Note, error)
	// LatestNoteMatching returns the most recently created note whose title
	// contains text, case-insensitively.
	LatestNoteMatching(ctx context.Context, userID, text string) (*Note, error)
	UpdateNote(ctx context.Context, n *Note) error
	DeleteNote(ctx context.Context, userID, id string) error
	// ListNotes orders by created_at, newest first.
	ListNotes(ctx context.Context, f NoteFilter) ([]Note, error)
}

type ProfileRepository interface {
	GetProfile(ctx context.Context, userID string) (*Profile, error)
	SaveProfile(ctx context.Context, p *Profile) error
}
