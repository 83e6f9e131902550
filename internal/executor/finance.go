package executor

import (
	"context"
	"errors"

	"github.com/opentalon/aspri/internal/domain"
	"github.com/opentalon/aspri/internal/intent"
)

const (
	defaultAccountName     = "Utama"
	defaultAccountType     = "cash"
	defaultAccountCurrency = "IDR"
)

func fallbackCategory(t domain.TxType) string {
	if t == domain.Income {
		return "Pemasukan Lain"
	}
	return "Pengeluaran Lain"
}

func categoryStyle(t domain.TxType) (icon, color string) {
	if t == domain.Income {
		return "wallet", "#22c55e"
	}
	return "shopping-cart", "#ef4444"
}

func typeLabel(t domain.TxType) string {
	if t == domain.Income {
		return "pemasukan"
	}
	return "pengeluaran"
}

// account returns the user's first account, creating the default cash
// account when there is none.
func (e *Executor) account(ctx context.Context, userID string) (*domain.Account, error) {
	a, err := e.deps.Finance.FirstAccount(ctx, userID)
	if err == nil {
		return a, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}
	a = &domain.Account{
		UserID:   userID,
		Name:     defaultAccountName,
		Type:     defaultAccountType,
		Currency: defaultAccountCurrency,
	}
	if err := e.deps.Finance.CreateAccount(ctx, a); err != nil {
		return nil, err
	}
	return a, nil
}

// category matches name as a substring within the user's categories of
// txType and creates it when nothing matches.
func (e *Executor) category(ctx context.Context, userID string, txType domain.TxType, name string) (*domain.Category, error) {
	if name == "" {
		name = fallbackCategory(txType)
	}
	c, err := e.deps.Finance.FindCategory(ctx, userID, txType, name)
	if err == nil {
		return c, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}
	icon, color := categoryStyle(txType)
	c = &domain.Category{UserID: userID, Name: name, TxType: txType, Icon: icon, Color: color}
	if err := e.deps.Finance.CreateCategory(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

func (e *Executor) createTransaction(ctx context.Context, userID string, p intent.Entities) Result {
	amount, valid := ParseAmount(p["amount"])
	if !valid || amount <= 0 {
		return fail("Gagal mencatat transaksi: jumlah tidak valid")
	}
	txType := domain.ParseTxType(p.String("tx_type"))

	acc, err := e.account(ctx, userID)
	if err != nil {
		return fail("Gagal mencatat transaksi: %v", err)
	}
	cat, err := e.category(ctx, userID, txType, p.String("category"))
	if err != nil {
		return fail("Gagal mencatat transaksi: %v", err)
	}
	occurred := e.clock()
	if s := p.String("occurred_at"); s != "" {
		if t, ok := ParseTime(s, occurred, e.loc); ok {
			occurred = t
		}
	}

	tx := &domain.Transaction{
		UserID:       userID,
		AccountID:    acc.ID,
		CategoryID:   cat.ID,
		CategoryName: cat.Name,
		TxType:       txType,
		Amount:       amount,
		Note:         p.String("note"),
		OccurredAt:   occurred,
	}
	if err := e.deps.Finance.CreateTransaction(ctx, tx); err != nil {
		return fail("Gagal mencatat transaksi: %v", err)
	}
	return ok("Transaksi "+typeLabel(txType)+" sebesar "+FormatRupiah(amount)+" berhasil dicatat!", map[string]any{
		"transaction_id": tx.ID,
		"amount":         amount,
		"tx_type":        string(txType),
		"category":       cat.Name,
		"note":           tx.Note,
		"occurred_at":    occurred.Format(dateLayout),
	})
}

// findTransaction resolves the target by id, or else by the most recently
// created transaction whose note contains the description.
func (e *Executor) findTransaction(ctx context.Context, userID string, p intent.Entities) (*domain.Transaction, error) {
	if id := p.String("transaction_id"); id != "" {
		return e.deps.Finance.GetTransaction(ctx, userID, id)
	}
	if desc := p.String("description"); desc != "" {
		return e.deps.Finance.LatestTransactionMatching(ctx, userID, desc)
	}
	return nil, domain.ErrNotFound
}

func (e *Executor) updateTransaction(ctx context.Context, userID string, p intent.Entities) Result {
	tx, err := e.findTransaction(ctx, userID, p)
	if err != nil {
		return failure(err, "Transaksi tidak ditemukan", "Gagal memperbarui transaksi")
	}

	changed := false
	if p.Has("tx_type") {
		tx.TxType = domain.ParseTxType(p.String("tx_type"))
		changed = true
	}
	if p.Has("amount") {
		amount, valid := ParseAmount(p["amount"])
		if !valid || amount <= 0 {
			return fail("Gagal memperbarui transaksi: jumlah tidak valid")
		}
		tx.Amount = amount
		changed = true
	}
	if p.Has("category") {
		cat, err := e.category(ctx, userID, tx.TxType, p.String("category"))
		if err != nil {
			return fail("Gagal memperbarui transaksi: %v", err)
		}
		tx.CategoryID, tx.CategoryName = cat.ID, cat.Name
		changed = true
	}
	if p.Has("note") {
		tx.Note = p.String("note")
		changed = true
	}
	if p.Has("occurred_at") {
		t, valid := ParseTime(p.String("occurred_at"), e.clock(), e.loc)
		if !valid {
			return fail("Gagal memperbarui transaksi: tanggal tidak valid")
		}
		tx.OccurredAt = t
		changed = true
	}
	if !changed {
		return fail("Tidak ada perubahan untuk transaksi ini")
	}

	if err := e.deps.Finance.UpdateTransaction(ctx, tx); err != nil {
		return failure(err, "Transaksi tidak ditemukan", "Gagal memperbarui transaksi")
	}
	return ok("Transaksi sebesar "+FormatRupiah(tx.Amount)+" berhasil diperbarui!", map[string]any{
		"transaction_id": tx.ID,
		"amount":         tx.Amount,
		"tx_type":        string(tx.TxType),
		"category":       tx.CategoryName,
		"note":           tx.Note,
		"occurred_at":    tx.OccurredAt.In(e.loc).Format(dateLayout),
	})
}

func (e *Executor) deleteTransaction(ctx context.Context, userID string, p intent.Entities) Result {
	tx, err := e.findTransaction(ctx, userID, p)
	if err != nil {
		return failure(err, "Transaksi tidak ditemukan", "Gagal menghapus transaksi")
	}
	if err := e.deps.Finance.DeleteTransaction(ctx, userID, tx.ID); err != nil {
		return failure(err, "Transaksi tidak ditemukan", "Gagal menghapus transaksi")
	}
	return ok("Transaksi sebesar "+FormatRupiah(tx.Amount)+" berhasil dihapus!", nil)
}
