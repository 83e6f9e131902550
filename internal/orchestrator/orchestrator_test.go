package orchestrator

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opentalon/aspri/internal/capability"
	"github.com/opentalon/aspri/internal/domain"
	"github.com/opentalon/aspri/internal/executor"
	"github.com/opentalon/aspri/internal/intent"
	"github.com/opentalon/aspri/internal/metrics"
	"github.com/opentalon/aspri/internal/pending"
	"github.com/opentalon/aspri/internal/plugin"
	"github.com/opentalon/aspri/internal/provider"
	"github.com/opentalon/aspri/internal/state/store"
)

var wib = time.FixedZone("WIB", 7*3600)

type step struct {
	out    provider.Output
	err    error
	chunks []string
}

func call(name string, args map[string]any) step {
	return step{out: provider.Call{Name: name, Arguments: args}}
}

func text(s string) step { return step{out: provider.Text(s)} }

// scriptedProvider answers requests from a queue and records them.
type scriptedProvider struct {
	mu       sync.Mutex
	steps    []step
	reqs     []*provider.CompletionRequest
	noStream bool
}

func (p *scriptedProvider) script(s ...step) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.steps = append(p.steps, s...)
}

func (p *scriptedProvider) next(req *provider.CompletionRequest) step {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reqs = append(p.reqs, req)
	if len(p.steps) == 0 {
		return step{err: errors.New("no scripted response")}
	}
	s := p.steps[0]
	p.steps = p.steps[1:]
	return s
}

func (p *scriptedProvider) calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.reqs)
}

func (p *scriptedProvider) request(i int) *provider.CompletionRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.reqs[i]
}

func (p *scriptedProvider) ID() string { return "scripted" }

func (p *scriptedProvider) Complete(_ context.Context, req *provider.CompletionRequest) (*provider.CompletionResponse, error) {
	s := p.next(req)
	if s.err != nil {
		return nil, s.err
	}
	return &provider.CompletionResponse{Output: s.out}, nil
}

func (p *scriptedProvider) Stream(_ context.Context, req *provider.CompletionRequest) (provider.ResponseStream, error) {
	s := p.next(req)
	if s.err != nil {
		return nil, s.err
	}
	return &sliceStream{chunks: s.chunks}, nil
}

func (p *scriptedProvider) Models() []provider.ModelInfo { return nil }
func (p *scriptedProvider) SupportsFeature(f provider.Feature) bool {
	return f != provider.FeatureStreaming || !p.noStream
}

type sliceStream struct{ chunks []string }

func (s *sliceStream) Recv() (provider.StreamChunk, error) {
	if len(s.chunks) == 0 {
		return provider.StreamChunk{}, io.EOF
	}
	c := s.chunks[0]
	s.chunks = s.chunks[1:]
	return provider.StreamChunk{Content: c}, nil
}

func (s *sliceStream) Close() error { return nil }

// blockingProvider never answers before its context ends.
type blockingProvider struct{ scriptedProvider }

func (p *blockingProvider) Complete(ctx context.Context, req *provider.CompletionRequest) (*provider.CompletionResponse, error) {
	p.next(req)
	<-ctx.Done()
	return nil, &provider.ProviderError{Provider: "blocking", Err: ctx.Err()}
}

type fixture struct {
	orch      *Orchestrator
	llm       *scriptedProvider
	pending   *store.PendingStore
	finance   *store.FinanceStore
	schedules *store.ScheduleStore
	notes     *store.NoteStore
	profiles  *store.ProfileStore

	mu  sync.Mutex
	now time.Time
}

func (f *fixture) clock() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fixture) advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

type fixtureOpts struct {
	provider provider.Provider
	plugins  *plugin.Host
	opts     []Option
}

func newFixture(t *testing.T, fo fixtureOpts) *fixture {
	t.Helper()
	db, err := store.Open(store.Options{DataDir: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	f := &fixture{
		llm:       &scriptedProvider{},
		pending:   store.NewPendingStore(db),
		finance:   store.NewFinanceStore(db),
		schedules: store.NewScheduleStore(db),
		notes:     store.NewNoteStore(db),
		profiles:  store.NewProfileStore(db),
		now:       time.Date(2026, 10, 17, 10, 0, 0, 0, wib),
	}
	var p provider.Provider = f.llm
	if fo.provider != nil {
		p = fo.provider
	}

	deps := executor.Deps{Finance: f.finance, Schedules: f.schedules, Notes: f.notes}
	var lister capability.PluginLister
	if fo.plugins != nil {
		deps.Plugins = fo.plugins
		lister = fo.plugins
	}
	exec := executor.New(deps, executor.WithClock(f.clock), executor.WithLocation(wib))

	opts := append([]Option{WithClock(f.clock)}, fo.opts...)
	f.orch = New(Deps{
		Classifier:   intent.NewClassifier(p, "test-model"),
		Capabilities: capability.NewRegistry(nil, lister, nil),
		Pending:      pending.NewMachine(f.pending, pending.WithClock(f.clock)),
		Executor:     exec,
		Profiles:     f.profiles,
		Provider:     p,
		Model:        "test-model",
	}, opts...)
	return f
}

func (f *fixture) turn(t *testing.T, msg string) Reply {
	t.Helper()
	r := f.orch.ProcessMessage(context.Background(), Turn{UserID: "u1", ThreadID: "t1", Message: msg})
	require.NotEmpty(t, r.Text)
	return r
}

func (f *fixture) transactions(t *testing.T) []domain.Transaction {
	t.Helper()
	txs, err := f.finance.ListTransactions(context.Background(), domain.TransactionFilter{UserID: "u1"})
	require.NoError(t, err)
	return txs
}

func (f *fixture) status(t *testing.T, id string) pending.Status {
	t.Helper()
	a, err := f.pending.Get(context.Background(), id)
	require.NoError(t, err)
	return a.Status
}

var lunch = map[string]any{"tx_type": "expense", "amount": float64(50000), "note": "makan siang"}

func TestRecordExpenseThenConfirm(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	f.llm.script(call("create_transaction", lunch))

	r := f.turn(t, "Catat pengeluaran 50000 untuk makan siang")
	assert.False(t, r.ActionTaken)
	require.NotNil(t, r.Pending)
	assert.Equal(t, "create_transaction", r.Pending.Action)
	assert.Equal(t, capability.ModuleFinance, r.Pending.Module)
	assert.True(t, r.Pending.ExpiresAt.Equal(f.clock().Add(pending.DefaultTTL)))
	assert.Contains(t, r.Text, "Rp50.000")
	assert.Contains(t, r.Text, "makan siang")
	assert.Contains(t, r.Text, `Balas "ya"`)
	assert.Empty(t, f.transactions(t))

	r = f.turn(t, "ya")
	assert.True(t, r.ActionTaken)
	assert.Nil(t, r.Pending)
	assert.Equal(t, "Transaksi pengeluaran sebesar Rp50.000 berhasil dicatat!", r.Text)
	assert.Equal(t, 1, f.llm.calls(), "bare confirmation must not reach the model")

	txs := f.transactions(t)
	require.Len(t, txs, 1)
	assert.Equal(t, int64(50000), txs[0].Amount)
	assert.Equal(t, "makan siang", txs[0].Note)
	assert.Equal(t, "Pengeluaran Lain", txs[0].CategoryName)
}

func TestOtherUserCannotConfirmInSharedThread(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	f.llm.script(call("create_transaction", lunch), call("confirm", nil))

	r := f.turn(t, "Catat pengeluaran 50000 untuk makan siang")
	require.NotNil(t, r.Pending)

	other := f.orch.ProcessMessage(context.Background(), Turn{UserID: "u2", ThreadID: "t1", Message: "ya"})
	assert.False(t, other.ActionTaken)
	assert.Equal(t, msgNothingPending, other.Text)
	assert.Empty(t, f.transactions(t))
	assert.Equal(t, pending.StatusPending, f.status(t, r.Pending.ID))

	r = f.turn(t, "ya")
	assert.True(t, r.ActionTaken)
	assert.Len(t, f.transactions(t), 1)
}

func TestConfirmationClassifiedByModel(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	f.llm.script(
		call("create_transaction", map[string]any{"tx_type": "expense", "amount": float64(50000), "category": "Makan"}),
		call("confirm", nil),
	)
	f.turn(t, "catat 50rb makan")
	r := f.turn(t, "iya simpan aja deh")
	assert.True(t, r.ActionTaken)

	txs := f.transactions(t)
	require.Len(t, txs, 1)
	assert.Equal(t, "Makan", txs[0].CategoryName)
}

func TestConfirmAfterExpiryDoesNothing(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	f.llm.script(call("create_transaction", lunch), call("confirm", nil))

	staged := f.turn(t, "Catat pengeluaran 50000 untuk makan siang")
	require.NotNil(t, staged.Pending)

	f.advance(pending.DefaultTTL + time.Second)
	r := f.turn(t, "ya")
	assert.False(t, r.ActionTaken)
	assert.Equal(t, msgNothingPending, r.Text)
	assert.Empty(t, f.transactions(t))
	assert.Equal(t, pending.StatusExpired, f.status(t, staged.Pending.ID))
}

func TestConfirmExpiredActionReportsFailure(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	f.llm.script(call("create_transaction", lunch))
	staged := f.turn(t, "Catat pengeluaran 50000 untuk makan siang")

	open, err := f.pending.Get(context.Background(), staged.Pending.ID)
	require.NoError(t, err)
	f.advance(pending.DefaultTTL + time.Second)

	r := f.orch.confirm(context.Background(), open)
	assert.False(t, r.ActionTaken)
	assert.Equal(t, failureText(msgExpired), r.Text)
	assert.True(t, strings.HasSuffix(r.Text, msgTryAgain))
	assert.Empty(t, f.transactions(t))
}

func TestDoubleConfirmExecutesOnce(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	f.llm.script(call("create_transaction", lunch), call("confirm", nil))
	staged := f.turn(t, "Catat pengeluaran 50000 untuk makan siang")
	open, err := f.pending.Get(context.Background(), staged.Pending.ID)
	require.NoError(t, err)

	require.True(t, f.turn(t, "ya").ActionTaken)

	r := f.orch.confirm(context.Background(), open)
	assert.False(t, r.ActionTaken)
	assert.Equal(t, msgAlreadyResolved, r.Text)

	r = f.turn(t, "ya")
	assert.False(t, r.ActionTaken)
	assert.Equal(t, msgNothingPending, r.Text)

	assert.Len(t, f.transactions(t), 1)
}

func TestConcurrentConfirmExecutesOnce(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	f.llm.script(call("create_transaction", lunch))
	staged := f.turn(t, "Catat pengeluaran 50000 untuk makan siang")
	open, err := f.pending.Get(context.Background(), staged.Pending.ID)
	require.NoError(t, err)

	const n = 8
	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		taken int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a := *open
			if f.orch.confirm(context.Background(), &a).ActionTaken {
				mu.Lock()
				taken++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, taken)
	assert.Len(t, f.transactions(t), 1)
}

func TestCancelPendingAction(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	f.llm.script(call("create_transaction", lunch))
	staged := f.turn(t, "Catat pengeluaran 50000 untuk makan siang")

	r := f.turn(t, "batal")
	assert.Equal(t, msgCancelled, r.Text)
	assert.False(t, r.ActionTaken)
	assert.Equal(t, pending.StatusCancelled, f.status(t, staged.Pending.ID))
	assert.Empty(t, f.transactions(t))
}

func TestTopicChangeCancelsStalePending(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	f.llm.script(call("create_transaction", lunch), call("view_balance", map[string]any{"period": "today"}))
	staged := f.turn(t, "Catat pengeluaran 50000 untuk makan siang")

	r := f.turn(t, "saldo hari ini berapa?")
	assert.Contains(t, r.Text, "Ringkasan keuangan hari ini")
	assert.Nil(t, r.Pending)
	assert.Equal(t, pending.StatusCancelled, f.status(t, staged.Pending.ID))

	_, err := f.pending.OpenForThread(context.Background(), "t1")
	assert.ErrorIs(t, err, pending.ErrNotFound)
}

func TestBackToBackStagesKeepOnePending(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	f.llm.script(
		call("create_transaction", lunch),
		call("create_note", map[string]any{"title": "Belanja", "content": "telur, susu"}),
	)
	first := f.turn(t, "Catat pengeluaran 50000 untuk makan siang")
	second := f.turn(t, "eh, simpan catatan belanja: telur, susu")
	require.NotNil(t, first.Pending)
	require.NotNil(t, second.Pending)

	assert.Equal(t, pending.StatusCancelled, f.status(t, first.Pending.ID))
	open, err := f.pending.OpenForThread(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, second.Pending.ID, open.ID)

	r := f.turn(t, "ok")
	assert.True(t, r.ActionTaken)
	assert.Equal(t, `Catatan "Belanja" berhasil disimpan!`, r.Text)
	assert.Empty(t, f.transactions(t))
}

func TestMissingEntityAsksClarifyingQuestion(t *testing.T) {
	tests := []struct {
		name   string
		action string
		args   map[string]any
		want   string
	}{
		{"no amount", "create_transaction", map[string]any{"tx_type": "expense", "note": "kopi"}, "Berapa jumlah"},
		{"zero amount", "create_transaction", map[string]any{"tx_type": "expense", "amount": float64(0)}, "Berapa jumlah"},
		{"no title", "create_schedule", map[string]any{"start_time": "2026-10-18 10:00"}, "judul jadwalnya"},
		{"no content", "create_note", map[string]any{"title": "Ide"}, "isi catatannya"},
		{"delete without reference", "delete_schedule", map[string]any{}, "Jadwal yang mana"},
		{"update without reference", "update_transaction", map[string]any{"amount": float64(1)}, "Transaksi yang mana"},
		{"update without changes", "update_note", map[string]any{"title": "Ide"}, "Apa yang ingin diubah"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, fixtureOpts{})
			f.llm.script(call(tt.action, tt.args), call(tt.action, tt.args))

			first := f.turn(t, "tolong")
			assert.Nil(t, first.Pending)
			assert.False(t, first.ActionTaken)
			assert.Contains(t, first.Text, tt.want)

			again := f.turn(t, "tolong")
			assert.Equal(t, first.Text, again.Text)

			_, err := f.pending.OpenForThread(context.Background(), "t1")
			assert.ErrorIs(t, err, pending.ErrNotFound)
		})
	}
}

func TestProviderTimeoutStillReplies(t *testing.T) {
	bp := &blockingProvider{}
	m := metrics.New()
	f := newFixture(t, fixtureOpts{
		provider: bp,
		opts:     []Option{WithProviderTimeout(20 * time.Millisecond), WithMetrics(m)},
	})

	r := f.turn(t, "Catat pengeluaran 50000 untuk makan siang")
	assert.False(t, r.ActionTaken)
	assert.Nil(t, r.Pending)
	assert.Equal(t, msgProviderApology, r.Text)
	assert.Equal(t, 2, bp.calls(), "classification and free-text fallback")
	assert.Empty(t, f.transactions(t))
}

func TestDeleteByTitleRemovesMostRecentMatch(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	ctx := context.Background()
	start := f.clock().Add(24 * time.Hour)
	older := &domain.Schedule{UserID: "u1", Title: "Meeting tim", StartTime: start, EndTime: start.Add(time.Hour),
		CreatedAt: f.clock().Add(-2 * time.Hour)}
	newer := &domain.Schedule{UserID: "u1", Title: "Meeting tim mingguan", StartTime: start, EndTime: start.Add(time.Hour),
		CreatedAt: f.clock().Add(-time.Hour)}
	require.NoError(t, f.schedules.CreateSchedule(ctx, older))
	require.NoError(t, f.schedules.CreateSchedule(ctx, newer))

	f.llm.script(call("delete_schedule", map[string]any{"title": "meeting"}))
	r := f.turn(t, "hapus jadwal meeting")
	require.NotNil(t, r.Pending)
	assert.Contains(t, r.Text, `MENGHAPUS jadwal: "meeting"`)

	r = f.turn(t, "ya")
	require.True(t, r.ActionTaken, r.Text)

	_, err := f.schedules.GetSchedule(ctx, "u1", newer.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = f.schedules.GetSchedule(ctx, "u1", older.ID)
	assert.NoError(t, err)
}

func TestExecutionFailureAddsTryAgain(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	f.llm.script(call("delete_transaction", map[string]any{"description": "tidak ada"}))
	f.turn(t, "hapus transaksi tidak ada")

	r := f.turn(t, "ya")
	assert.False(t, r.ActionTaken)
	assert.Equal(t, "Transaksi tidak ditemukan. Silakan coba lagi.", r.Text)
}

func TestConfirmWithoutPending(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	f.llm.script(call("confirm", nil), call("cancel", nil))
	assert.Equal(t, msgNothingPending, f.turn(t, "ya").Text)
	assert.Equal(t, msgNothingPending, f.turn(t, "batal").Text)
}

func TestGreetingUsesProfile(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	require.NoError(t, f.profiles.SaveProfile(context.Background(), &domain.Profile{
		UserID: "u1", Name: "Budi", CallPreference: "Mas", AssistantName: "Sari",
	}))
	f.llm.script(call("greeting", nil), call("help", map[string]any{"topic": "jadwal"}))

	r := f.turn(t, "halo")
	assert.True(t, strings.HasPrefix(r.Text, "Halo Mas Budi! Saya Sari"), r.Text)

	r = f.turn(t, "bantuan jadwal")
	assert.Contains(t, r.Text, "contoh perintah jadwal, Mas")
}

func TestGreetingDefaultsWithoutProfile(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	f.llm.script(call("greeting", nil), call("help", nil))
	assert.True(t, strings.HasPrefix(f.turn(t, "halo").Text, "Halo Kak! Saya ASPRI"))
	assert.Contains(t, f.turn(t, "bisa apa?").Text, "bantuan keuangan")
}

func TestFreeTextReply(t *testing.T) {
	f := newFixture(t, fixtureOpts{opts: []Option{WithRules([]string{"Never give investment advice"})}})
	f.llm.script(text("bukan json"), text("Ibu kota Indonesia adalah Jakarta."))

	var history []provider.Message
	for i := 0; i < 15; i++ {
		history = append(history, provider.Message{Role: provider.RoleUser, Content: "pesan lama"})
	}
	r := f.orch.ProcessMessage(context.Background(), Turn{
		UserID: "u1", ThreadID: "t1", Message: "Apa ibu kota Indonesia?", History: history,
	})
	assert.Equal(t, "Ibu kota Indonesia adalah Jakarta.", r.Text)
	assert.False(t, r.ActionTaken)

	req := f.llm.request(1)
	assert.Empty(t, req.Tools)
	require.Len(t, req.Messages, FreeTextHistory+2)
	assert.Equal(t, provider.RoleSystem, req.Messages[0].Role)
	assert.Contains(t, req.Messages[0].Content, "You are ASPRI")
	assert.Contains(t, req.Messages[0].Content, "Saturday, 17 October 2026")
	assert.Contains(t, req.Messages[0].Content, "- [custom] Never give investment advice")
	assert.Equal(t, "Apa ibu kota Indonesia?", req.Messages[len(req.Messages)-1].Content)
}

func TestFreeTextUsesPersona(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	require.NoError(t, f.profiles.SaveProfile(context.Background(), &domain.Profile{
		UserID: "u1", CallPreference: "Dek", AssistantName: "Mbak Rini", Persona: "a cheerful big sister who keeps answers short",
	}))
	f.llm.script(text("{}"), text("Semangat ya, Dek!"))

	f.turn(t, "capek banget hari ini")
	system := f.llm.request(1).Messages[0].Content
	assert.Contains(t, system, "You are Mbak Rini, a cheerful big sister who keeps answers short.")
	assert.Contains(t, system, "- Preferred address: Dek")
}

func TestPersonalizeRestatesTemplatedReplies(t *testing.T) {
	f := newFixture(t, fixtureOpts{opts: []Option{WithPersonalize(true)}})
	f.llm.script(
		call("create_transaction", lunch),
		text(`Siap Kak, makan siang Rp50.000 mau dicatat? Balas "ya" atau "batal".`),
		text("Beres, sudah tercatat!"),
	)

	r := f.turn(t, "Catat pengeluaran 50000 untuk makan siang")
	require.NotNil(t, r.Pending, "staging survives the restatement")
	assert.Equal(t, `Siap Kak, makan siang Rp50.000 mau dicatat? Balas "ya" atau "batal".`, r.Text)

	req := f.llm.request(1)
	assert.Empty(t, req.Tools)
	assert.Contains(t, req.Messages[0].Content, "You are ASPRI")
	prompt := req.Messages[1].Content
	assert.Contains(t, prompt, "Rp50.000")
	assert.Contains(t, prompt, `"Catat pengeluaran 50000 untuk makan siang"`)
	assert.Contains(t, prompt, `including "ya" and "batal"`)

	r = f.turn(t, "ya")
	assert.True(t, r.ActionTaken)
	assert.Equal(t, "Beres, sudah tercatat!", r.Text)
	assert.Len(t, f.transactions(t), 1)
}

func TestPersonalizeFallsBackToTemplate(t *testing.T) {
	f := newFixture(t, fixtureOpts{opts: []Option{WithPersonalize(true)}})
	f.llm.script(call("greeting", nil), step{err: errors.New("upstream 503")}, call("greeting", nil), text("  "))

	r := f.turn(t, "halo")
	assert.True(t, strings.HasPrefix(r.Text, "Halo Kak! Saya ASPRI"), r.Text)
	r = f.turn(t, "halo lagi")
	assert.True(t, strings.HasPrefix(r.Text, "Halo Kak! Saya ASPRI"), "an empty restatement keeps the template")
}

func TestPersonalizeOffMakesNoExtraCall(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	f.llm.script(call("greeting", nil))
	f.turn(t, "halo")
	assert.Equal(t, 1, f.llm.calls())
}

func TestFreeTextEmptyAnswerFallsBack(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	f.llm.script(call("unknown", nil), text("  "))
	r := f.turn(t, "asdfgh")
	assert.Contains(t, r.Text, "belum memahami")
}

func TestStreamFreeText(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	f.llm.script(text("{}"), step{chunks: []string{"Halo", " Kak", "!"}})

	var tokens []string
	r := f.orch.ProcessMessageStream(context.Background(), Turn{UserID: "u1", ThreadID: "t1", Message: "apa kabar"},
		func(s string) { tokens = append(tokens, s) })
	assert.Equal(t, []string{"Halo", " Kak", "!"}, tokens)
	assert.Equal(t, "Halo Kak!", r.Text)
	assert.True(t, f.llm.request(1).Stream)
}

func TestStreamWithoutStreamingSupport(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	f.llm.noStream = true
	f.llm.script(text("{}"), text("Halo Kak!"))

	var tokens []string
	r := f.orch.ProcessMessageStream(context.Background(), Turn{UserID: "u1", ThreadID: "t1", Message: "apa kabar"},
		func(s string) { tokens = append(tokens, s) })
	assert.Equal(t, []string{"Halo Kak!"}, tokens)
	assert.Equal(t, "Halo Kak!", r.Text)
	assert.False(t, f.llm.request(1).Stream)
}

func TestStreamTemplatedReplyIsSingleToken(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	f.llm.script(call("create_transaction", lunch))

	var tokens []string
	r := f.orch.ProcessMessageStream(context.Background(), Turn{UserID: "u1", ThreadID: "t1", Message: "catat"},
		func(s string) { tokens = append(tokens, s) })
	require.NotNil(t, r.Pending)
	assert.Equal(t, []string{r.Text}, tokens)
}

func TestViewReplies(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	ctx := context.Background()
	today := f.clock()
	acc := &domain.Account{UserID: "u1", Name: "Utama", Type: "cash", Currency: "IDR", InitialBalance: 100000}
	require.NoError(t, f.finance.CreateAccount(ctx, acc))
	require.NoError(t, f.finance.CreateTransaction(ctx, &domain.Transaction{
		UserID: "u1", AccountID: acc.ID, TxType: domain.Income, Amount: 200000, Note: "honor", OccurredAt: today,
	}))
	require.NoError(t, f.finance.CreateTransaction(ctx, &domain.Transaction{
		UserID: "u1", AccountID: acc.ID, TxType: domain.Expense, Amount: 25000, Note: "kopi", OccurredAt: today,
	}))

	f.llm.script(
		call("view_balance", nil),
		call("view_transactions", map[string]any{"period": "today"}),
		call("view_schedules", map[string]any{"period": "tomorrow"}),
		call("view_notes", nil),
	)

	r := f.turn(t, "ringkasan keuangan")
	assert.Contains(t, r.Text, "Ringkasan keuangan bulan ini")
	assert.Contains(t, r.Text, "Pemasukan: Rp200.000")
	assert.Contains(t, r.Text, "Pengeluaran: Rp25.000")
	assert.Contains(t, r.Text, "Selisih: Rp175.000")
	assert.Contains(t, r.Text, "Saldo Total: Rp275.000")

	r = f.turn(t, "transaksi hari ini")
	assert.Contains(t, r.Text, "Transaksi Terbaru")
	assert.Contains(t, r.Text, "💵 +Rp200.000")
	assert.Contains(t, r.Text, "💸 -Rp25.000")
	assert.Contains(t, r.Text, "(kopi) - 17 Oct 2026")

	assert.Equal(t, "Tidak ada jadwal besok.", f.turn(t, "jadwal besok").Text)
	assert.Equal(t, "Belum ada catatan yang tersimpan.", f.turn(t, "catatanku").Text)
}

const reminderScript = `
function handle(user_id, action, entities)
  return { success = true, message = "Pengingat minum air setiap " .. entities.minutes .. " menit" }
end
`

func TestPluginActionStagedAndExecuted(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reminder.lua")
	require.NoError(t, os.WriteFile(path, []byte(reminderScript), 0600))
	host := plugin.NewHost(nil, nil)
	require.NoError(t, host.Load(plugin.Entry{
		Slug: "water", Name: "Water", Script: path, Enabled: true,
		Intents: []capability.PluginIntent{{
			Action: "remind", Description: "Remind to drink water",
			Entities: map[string]string{"minutes": "number"},
		}},
	}))
	f := newFixture(t, fixtureOpts{plugins: host})

	f.llm.script(call("plugin_water_remind", map[string]any{}))
	r := f.turn(t, "ingatkan minum air")
	assert.Nil(t, r.Pending)
	assert.Contains(t, r.Text, "minutes")

	f.llm.script(call("plugin_water_remind", map[string]any{"minutes": float64(30)}))
	r = f.turn(t, "ingatkan minum air tiap 30 menit")
	require.NotNil(t, r.Pending)
	assert.Equal(t, capability.ModulePlugin, r.Pending.Module)
	assert.Equal(t, "water", r.Pending.Entities[capability.PluginSlugParam])

	r = f.turn(t, "ya")
	assert.True(t, r.ActionTaken, r.Text)
	assert.Equal(t, "Pengingat minum air setiap 30 menit", r.Text)
}

func TestInactivePluginAction(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	f.llm.script(text(`{"action":"plugin_water_remind","module":"plugin","entities":{"minutes":30}}`))
	r := f.turn(t, "ingatkan minum air")
	assert.Nil(t, r.Pending)
	assert.Contains(t, r.Text, "belum aktif")
}

func TestMetricsRecordTurnOutcomes(t *testing.T) {
	m := metrics.New()
	f := newFixture(t, fixtureOpts{opts: []Option{WithMetrics(m)}})
	f.llm.script(call("create_transaction", lunch))
	f.turn(t, "Catat pengeluaran 50000 untuk makan siang")
	f.turn(t, "ya")

	families, err := m.Registry().Gather()
	require.NoError(t, err)
	got := map[string]float64{}
	for _, fam := range families {
		if fam.GetName() != "aspri_turns_total" {
			continue
		}
		for _, metric := range fam.GetMetric() {
			got[metric.GetLabel()[0].GetValue()] = metric.GetCounter().GetValue()
		}
	}
	assert.Equal(t, map[string]float64{metrics.OutcomeStaged: 1, metrics.OutcomeExecuted: 1}, got)
}
