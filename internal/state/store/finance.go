package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/opentalon/aspri/internal/domain"
)

// FinanceStore implements domain.FinanceRepository.
type FinanceStore struct {
	db *DB
}

func NewFinanceStore(db *DB) *FinanceStore {
	return &FinanceStore{db: db}
}

var _ domain.FinanceRepository = (*FinanceStore)(nil)

func (s *FinanceStore) FirstAccount(ctx context.Context, userID string) (*domain.Account, error) {
	var a domain.Account
	var created string
	err := s.db.queryRow(ctx, s.db.SQLDB(),
		`SELECT id, user_id, name, type, currency, initial_balance, created_at
		 FROM accounts WHERE user_id = ? ORDER BY created_at ASC LIMIT 1`, userID,
	).Scan(&a.ID, &a.UserID, &a.Name, &a.Type, &a.Currency, &a.InitialBalance, &created)
	if err != nil {
		return nil, notFound(err, "account")
	}
	a.CreatedAt = parseTime(created)
	return &a, nil
}

func (s *FinanceStore) CreateAccount(ctx context.Context, a *domain.Account) error {
	fillID(&a.ID, &a.CreatedAt)
	_, err := s.db.exec(ctx, s.db.SQLDB(),
		`INSERT INTO accounts (id, user_id, name, type, currency, initial_balance, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.UserID, a.Name, a.Type, a.Currency, a.InitialBalance, formatTime(a.CreatedAt))
	if err != nil {
		return fmt.Errorf("create account: %w", err)
	}
	return nil
}

func (s *FinanceStore) FindCategory(ctx context.Context, userID string, txType domain.TxType, name string) (*domain.Category, error) {
	var c domain.Category
	var tt, created string
	err := s.db.queryRow(ctx, s.db.SQLDB(),
		`SELECT id, user_id, name, tx_type, icon, color, created_at FROM categories
		 WHERE user_id = ? AND tx_type = ? AND LOWER(name) LIKE ? ESCAPE '\'
		 ORDER BY created_at ASC LIMIT 1`,
		userID, string(txType), likePattern(name),
	).Scan(&c.ID, &c.UserID, &c.Name, &tt, &c.Icon, &c.Color, &created)
	if err != nil {
		return nil, notFound(err, "category")
	}
	c.TxType = domain.TxType(tt)
	c.CreatedAt = parseTime(created)
	return &c, nil
}

func (s *FinanceStore) CreateCategory(ctx context.Context, c *domain.Category) error {
	fillID(&c.ID, &c.CreatedAt)
	_, err := s.db.exec(ctx, s.db.SQLDB(),
		`INSERT INTO categories (id, user_id, name, tx_type, icon, color, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.UserID, c.Name, string(c.TxType), c.Icon, c.Color, formatTime(c.CreatedAt))
	if err != nil {
		return fmt.Errorf("create category: %w", err)
	}
	return nil
}

func (s *FinanceStore) CreateTransaction(ctx context.Context, t *domain.Transaction) error {
	fillID(&t.ID, &t.CreatedAt)
	if t.OccurredAt.IsZero() {
		t.OccurredAt = t.CreatedAt
	}
	_, err := s.db.exec(ctx, s.db.SQLDB(),
		`INSERT INTO transactions (id, user_id, account_id, category_id, tx_type, amount, note, occurred_at, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.UserID, t.AccountID, t.CategoryID, string(t.TxType), t.Amount, t.Note,
		formatTime(t.OccurredAt), formatTime(t.CreatedAt))
	if err != nil {
		return fmt.Errorf("create transaction: %w", err)
	}
	return nil
}

const txColumns = `t.id, t.user_id, t.account_id, t.category_id, COALESCE(c.name, ''), t.tx_type, t.amount, t.note, t.occurred_at, t.created_at`
const txFrom = ` FROM transactions t LEFT JOIN categories c ON c.id = t.category_id`

func scanTransaction(sc interface{ Scan(...any) error }) (*domain.Transaction, error) {
	var t domain.Transaction
	var tt, occurred, created string
	if err := sc.Scan(&t.ID, &t.UserID, &t.AccountID, &t.CategoryID, &t.CategoryName, &tt, &t.Amount, &t.Note, &occurred, &created); err != nil {
		return nil, err
	}
	t.TxType = domain.TxType(tt)
	t.OccurredAt = parseTime(occurred)
	t.CreatedAt = parseTime(created)
	return &t, nil
}

func (s *FinanceStore) GetTransaction(ctx context.Context, userID, id string) (*domain.Transaction, error) {
	row := s.db.queryRow(ctx, s.db.SQLDB(),
		`SELECT `+txColumns+txFrom+` WHERE t.user_id = ? AND t.id = ?`, userID, id)
	t, err := scanTransaction(row)
	if err != nil {
		return nil, notFound(err, "transaction")
	}
	return t, nil
}

func (s *FinanceStore) LatestTransactionMatching(ctx context.Context, userID, text string) (*domain.Transaction, error) {
	row := s.db.queryRow(ctx, s.db.SQLDB(),
		`SELECT `+txColumns+txFrom+`
		 WHERE t.user_id = ? AND LOWER(t.note) LIKE ? ESCAPE '\'
		 ORDER BY t.created_at DESC LIMIT 1`, userID, likePattern(text))
	t, err := scanTransaction(row)
	if err != nil {
		return nil, notFound(err, "transaction")
	}
	return t, nil
}

func (s *FinanceStore) UpdateTransaction(ctx context.Context, t *domain.Transaction) error {
	res, err := s.db.exec(ctx, s.db.SQLDB(),
		`UPDATE transactions SET category_id = ?, tx_type = ?, amount = ?, note = ?, occurred_at = ?
		 WHERE id = ? AND user_id = ?`,
		t.CategoryID, string(t.TxType), t.Amount, t.Note, formatTime(t.OccurredAt), t.ID, t.UserID)
	return affected(res, err, "update transaction")
}

func (s *FinanceStore) DeleteTransaction(ctx context.Context, userID, id string) error {
	res, err := s.db.exec(ctx, s.db.SQLDB(),
		`DELETE FROM transactions WHERE id = ? AND user_id = ?`, id, userID)
	return affected(res, err, "delete transaction")
}

func (s *FinanceStore) ListTransactions(ctx context.Context, f domain.TransactionFilter) ([]domain.Transaction, error) {
	var where []string
	args := []any{f.UserID}
	where = append(where, "t.user_id = ?")
	if f.Range != nil {
		where = append(where, "t.occurred_at >= ? AND t.occurred_at < ?")
		args = append(args, formatTime(f.Range.From), formatTime(f.Range.To))
	}
	if f.TxType != "" {
		where = append(where, "t.tx_type = ?")
		args = append(args, string(f.TxType))
	}
	q := `SELECT ` + txColumns + txFrom + ` WHERE ` + strings.Join(where, " AND ") +
		` ORDER BY t.occurred_at DESC, t.created_at DESC`
	if f.Limit > 0 {
		q += fmt.Sprintf(" LIMIT %d", f.Limit)
	}
	rows, err := s.db.query(ctx, s.db.SQLDB(), q, args...)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out []domain.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("list transactions: %w", err)
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

func (s *FinanceStore) Summarize(ctx context.Context, userID string, r domain.Range) (domain.Summary, error) {
	var sum domain.Summary
	err := s.db.queryRow(ctx, s.db.SQLDB(),
		`SELECT
		   COALESCE(SUM(CASE WHEN tx_type = 'income' THEN amount ELSE 0 END), 0),
		   COALESCE(SUM(CASE WHEN tx_type = 'expense' THEN amount ELSE 0 END), 0)
		 FROM transactions WHERE user_id = ? AND occurred_at >= ? AND occurred_at < ?`,
		userID, formatTime(r.From), formatTime(r.To),
	).Scan(&sum.Income, &sum.Expense)
	if err != nil {
		return domain.Summary{}, fmt.Errorf("summarize: %w", err)
	}
	return sum, nil
}

func (s *FinanceStore) TotalBalance(ctx context.Context, userID string) (int64, error) {
	var initial, net int64
	err := s.db.queryRow(ctx, s.db.SQLDB(),
		`SELECT COALESCE(SUM(initial_balance), 0) FROM accounts WHERE user_id = ?`, userID,
	).Scan(&initial)
	if err != nil {
		return 0, fmt.Errorf("total balance: %w", err)
	}
	err = s.db.queryRow(ctx, s.db.SQLDB(),
		`SELECT COALESCE(SUM(CASE WHEN tx_type = 'income' THEN amount ELSE -amount END), 0)
		 FROM transactions WHERE user_id = ?`, userID,
	).Scan(&net)
	if err != nil {
		return 0, fmt.Errorf("total balance: %w", err)
	}
	return initial + net, nil
}

func fillID(id *string, created *time.Time) {
	if *id == "" {
		*id = uuid.NewString()
	}
	if created.IsZero() {
		*created = time.Now().UTC()
	}
}

func notFound(err error, what string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", what, domain.ErrNotFound)
	}
	return fmt.Errorf("%s: %w", what, err)
}

func affected(res sql.Result, err error, op string) error {
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", op, domain.ErrNotFound)
	}
	return nil
}
