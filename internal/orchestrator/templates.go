package orchestrator

import (
	"fmt"
	"strings"
	"time"

	"github.com/opentalon/aspri/internal/domain"
	"github.com/opentalon/aspri/internal/executor"
	"github.com/opentalon/aspri/internal/intent"
)

const (
	dateLayout     = "02 Jan 2006"
	dateTimeLayout = "02 Jan 2006 15:04"
	timeLayout     = "15:04"

	defaultCallPreference = "Kak"
	defaultAssistantName  = "ASPRI"
	defaultPersonaStyle   = "a friendly and helpful personal assistant"

	msgCancelled        = "Aksi dibatalkan."
	msgNothingPending   = "Tidak ada aksi yang menunggu konfirmasi."
	msgExpired          = "Waktu konfirmasi sudah habis, aksi tidak dijalankan."
	msgAlreadyResolved  = "Aksi ini sudah diproses sebelumnya."
	msgTryAgain         = "Silakan coba lagi."
	msgProviderApology  = "Maaf, saya sedang tidak bisa menjawab. Silakan coba beberapa saat lagi."
	msgInternalFailure  = "Maaf, terjadi kesalahan saat memproses pesan."
	msgReadFailure      = "Maaf, data tidak bisa diambil saat ini."
	msgStageFailure     = "Maaf, aksi tidak bisa disiapkan saat ini."
	confirmInstruction  = `Balas "ya" untuk %s atau "batal" untuk membatalkan.`
	unknownPluginAction = "Fitur ini belum aktif untuk akun %s. Aktifkan plugin yang menyediakannya terlebih dahulu."
)

// persona is how the assistant names itself and the user.
type persona struct {
	call      string
	name      string
	assistant string
	// style is the assistant's described character.
	style string
}

func personaOf(p *domain.Profile) persona {
	out := persona{call: defaultCallPreference, assistant: defaultAssistantName, style: defaultPersonaStyle}
	if p == nil {
		return out
	}
	if s := strings.TrimSpace(p.CallPreference); s != "" {
		out.call = s
	}
	if s := strings.TrimSpace(p.AssistantName); s != "" {
		out.assistant = s
	}
	if s := strings.TrimSpace(p.Persona); s != "" {
		out.style = s
	}
	out.name = strings.TrimSpace(p.Name)
	return out
}

// personalizeInstruction asks the model to restate a templated reply. The
// confirmation keywords must survive because the next turn matches them.
const personalizeInstruction = `Restate the reply below in your own style.
Address the user as "%s".
Keep every number, amount, date, time, name and quoted word exactly as written, including "ya" and "batal".
Do not add information and do not ask new questions.
Answer in the same language as this user message: %q
Return only the restated reply.

Reply:
%s`

func personalizePrompt(p persona, userMessage, reply string) string {
	return fmt.Sprintf(personalizeInstruction, p.address(), userMessage, reply)
}

// address is the call form followed by the user's name when known.
func (p persona) address() string {
	if p.name == "" {
		return p.call
	}
	return p.call + " " + p.name
}

func greetingText(p persona) string {
	return fmt.Sprintf("Halo %s! Saya %s, asisten pribadimu. Saya bisa membantu:\n"+
		"- 💰 Mencatat pemasukan dan pengeluaran serta melihat ringkasan keuangan\n"+
		"- 📅 Membuat dan mengatur jadwal\n"+
		"- 📝 Menyimpan dan mencari catatan\n\n"+
		"Ada yang bisa saya bantu hari ini?", p.address(), p.assistant)
}

func helpText(p persona, topic string) string {
	var sb strings.Builder
	switch strings.ToLower(strings.TrimSpace(topic)) {
	case "finance", "keuangan", "transaksi":
		fmt.Fprintf(&sb, "Berikut contoh perintah keuangan, %s:\n", p.call)
		sb.WriteString("- \"catat pengeluaran 50rb untuk makan siang\"\n")
		sb.WriteString("- \"catat pemasukan gaji 5jt\"\n")
		sb.WriteString("- \"lihat ringkasan keuangan bulan ini\"\n")
		sb.WriteString("- \"lihat transaksi hari ini\"\n")
		sb.WriteString("- \"hapus transaksi makan siang\"")
	case "schedule", "jadwal", "agenda":
		fmt.Fprintf(&sb, "Berikut contoh perintah jadwal, %s:\n", p.call)
		sb.WriteString("- \"buat jadwal meeting besok jam 10\"\n")
		sb.WriteString("- \"lihat jadwal minggu ini\"\n")
		sb.WriteString("- \"pindahkan meeting ke jam 14\"\n")
		sb.WriteString("- \"hapus jadwal meeting\"")
	case "notes", "note", "catatan":
		fmt.Fprintf(&sb, "Berikut contoh perintah catatan, %s:\n", p.call)
		sb.WriteString("- \"buat catatan belanja: telur, susu\"\n")
		sb.WriteString("- \"lihat catatan\"\n")
		sb.WriteString("- \"cari catatan belanja\"\n")
		sb.WriteString("- \"hapus catatan belanja\"")
	default:
		fmt.Fprintf(&sb, "Saya %s, %s. Fitur yang tersedia:\n", p.assistant, p.address())
		sb.WriteString("- Keuangan: catat transaksi, lihat ringkasan dan saldo\n")
		sb.WriteString("- Jadwal: buat jadwal dan pengingat, lihat agenda\n")
		sb.WriteString("- Catatan: simpan, cari dan hapus catatan\n\n")
		sb.WriteString("Ketik \"bantuan keuangan\", \"bantuan jadwal\" atau \"bantuan catatan\" untuk contoh perintah.")
	}
	return sb.String()
}

func unknownText(p persona) string {
	return fmt.Sprintf("Maaf %s, saya belum memahami maksudnya. Coba misalnya \"catat pengeluaran 20rb untuk kopi\", "+
		"\"lihat jadwal hari ini\" atau \"buat catatan ide proyek\".", p.call)
}

func failureText(msg string) string {
	msg = strings.TrimSpace(msg)
	if msg == "" {
		return msgTryAgain
	}
	if !strings.HasSuffix(msg, ".") && !strings.HasSuffix(msg, "!") && !strings.HasSuffix(msg, "?") {
		msg += "."
	}
	return msg + " " + msgTryAgain
}

var periodNames = map[domain.Period]string{
	domain.Today:     "hari ini",
	domain.Tomorrow:  "besok",
	domain.ThisWeek:  "minggu ini",
	domain.ThisMonth: "bulan ini",
}

func financeSummaryText(s executor.FinanceSummary) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "💰 **Ringkasan keuangan %s:**\n", periodNames[s.Period])
	fmt.Fprintf(&sb, "- Pemasukan: %s\n", executor.FormatRupiah(s.Income))
	fmt.Fprintf(&sb, "- Pengeluaran: %s\n", executor.FormatRupiah(s.Expense))
	fmt.Fprintf(&sb, "- Selisih: %s\n", executor.FormatRupiah(s.Net))
	fmt.Fprintf(&sb, "- Saldo Total: %s", executor.FormatRupiah(s.TotalBalance))
	return sb.String()
}

func transactionsText(txs []domain.Transaction, loc *time.Location) string {
	if len(txs) == 0 {
		return "Belum ada transaksi yang tercatat."
	}
	var sb strings.Builder
	sb.WriteString("📋 **Transaksi Terbaru:**")
	for _, t := range txs {
		icon, sign := "💸", "-"
		if t.TxType == domain.Income {
			icon, sign = "💵", "+"
		}
		category := t.CategoryName
		if category == "" {
			category = "Tanpa kategori"
		}
		fmt.Fprintf(&sb, "\n%s %s%s - %s", icon, sign, executor.FormatRupiah(t.Amount), category)
		if t.Note != "" {
			fmt.Fprintf(&sb, " (%s)", t.Note)
		}
		fmt.Fprintf(&sb, " - %s", t.OccurredAt.In(loc).Format(dateLayout))
	}
	return sb.String()
}

func schedulesText(list []domain.Schedule, p domain.Period, loc *time.Location) string {
	if len(list) == 0 {
		return fmt.Sprintf("Tidak ada jadwal %s.", periodNames[p])
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "📅 **Jadwal %s:**", periodNames[p])
	for _, s := range list {
		fmt.Fprintf(&sb, "\n- %s pada %s - %s", s.Title,
			s.StartTime.In(loc).Format(dateTimeLayout), s.EndTime.In(loc).Format(timeLayout))
		if s.Location != "" {
			fmt.Fprintf(&sb, " di %s", s.Location)
		}
	}
	return sb.String()
}

func notesText(list []domain.Note, loc *time.Location) string {
	if len(list) == 0 {
		return "Belum ada catatan yang tersimpan."
	}
	var sb strings.Builder
	sb.WriteString("📝 **Catatan:**")
	for _, n := range list {
		fmt.Fprintf(&sb, "\n- %s (%s)", n.Title, n.CreatedAt.In(loc).Format(dateLayout))
		if len(n.Tags) > 0 {
			fmt.Fprintf(&sb, " #%s", strings.Join(n.Tags, " #"))
		}
		if body := preview(n.Content, 80); body != "" {
			fmt.Fprintf(&sb, ": %s", body)
		}
	}
	return sb.String()
}

func preview(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

// confirmationText renders the staged entities so the user can check them
// before replying.
func confirmationText(in intent.Intent, p persona, now time.Time, loc *time.Location) string {
	e := in.Entities
	var sb strings.Builder
	verb := "menyimpan"

	switch in.Action {
	case "create_transaction":
		kind := "Pengeluaran"
		if domain.ParseTxType(e.String("tx_type")) == domain.Income {
			kind = "Pemasukan"
		}
		amount, _ := executor.ParseAmount(e["amount"])
		fmt.Fprintf(&sb, "Saya akan mencatat transaksi berikut, %s:\n", p.call)
		fmt.Fprintf(&sb, "- Jenis: %s\n", kind)
		fmt.Fprintf(&sb, "- Jumlah: %s\n", executor.FormatRupiah(amount))
		fmt.Fprintf(&sb, "- Kategori: %s\n", orDash(e.String("category")))
		fmt.Fprintf(&sb, "- Keterangan: %s\n", orDash(e.String("note")))
		fmt.Fprintf(&sb, "- Tanggal: %s\n", dateOr(e.String("occurred_at"), now, now, loc, dateLayout))

	case "create_schedule":
		fmt.Fprintf(&sb, "Saya akan membuat jadwal berikut, %s:\n", p.call)
		fmt.Fprintf(&sb, "- Judul: %s\n", e.String("title"))
		fmt.Fprintf(&sb, "- Waktu: %s\n", dateOr(e.String("start_time"), now, now.Add(time.Hour), loc, dateTimeLayout))
		if e.Has("location") {
			fmt.Fprintf(&sb, "- Lokasi: %s\n", e.String("location"))
		}
		if e.Has("description") {
			fmt.Fprintf(&sb, "- Deskripsi: %s\n", e.String("description"))
		}

	case "create_note":
		fmt.Fprintf(&sb, "Saya akan menyimpan catatan berikut, %s:\n", p.call)
		fmt.Fprintf(&sb, "- Judul: %s\n", orDash(e.String("title")))
		fmt.Fprintf(&sb, "- Isi: %s\n", preview(e.String("content"), 200))
		if tags := e.Strings("tags"); len(tags) > 0 {
			fmt.Fprintf(&sb, "- Tags: %s\n", strings.Join(tags, ", "))
		}

	case "update_transaction", "update_schedule", "update_note":
		verb = "menyimpan perubahan"
		fmt.Fprintf(&sb, "Saya akan mengubah %s \"%s\":\n", subjectOf(in.Action), identifierOf(in.Action, e))
		changes := changeLines(in.Action, e, now, loc)
		if len(changes) == 0 {
			sb.WriteString("- (tidak ada perubahan yang disebutkan)\n")
		}
		for _, c := range changes {
			fmt.Fprintf(&sb, "- %s\n", c)
		}

	case "delete_transaction", "delete_schedule", "delete_note":
		verb = "menghapus"
		fmt.Fprintf(&sb, "⚠️ Saya akan MENGHAPUS %s: \"%s\"\n", subjectOf(in.Action), identifierOf(in.Action, e))

	default:
		fmt.Fprintf(&sb, "Saya akan menjalankan aksi %s", in.Action)
		if keys := displayKeys(e); len(keys) > 0 {
			sb.WriteString(" dengan:\n")
			for _, k := range keys {
				fmt.Fprintf(&sb, "- %s: %s\n", k, e.String(k))
			}
		} else {
			sb.WriteString(".\n")
		}
	}

	sb.WriteString("\n")
	fmt.Fprintf(&sb, confirmInstruction, verb)
	return sb.String()
}

func subjectOf(action string) string {
	switch {
	case strings.HasSuffix(action, "_transaction"):
		return "transaksi"
	case strings.HasSuffix(action, "_schedule"):
		return "jadwal"
	case strings.HasSuffix(action, "_note"):
		return "catatan"
	}
	return "data"
}

// identifierOf picks the most readable reference the user gave for the
// record action targets.
func identifierOf(action string, e intent.Entities) string {
	keys := []string{"title", "note_id"}
	switch subjectOf(action) {
	case "transaksi":
		keys = []string{"description", "transaction_id"}
	case "jadwal":
		keys = []string{"title", "schedule_id"}
	}
	for _, k := range keys {
		if e.Has(k) {
			return e.String(k)
		}
	}
	return "-"
}

func changeLines(action string, e intent.Entities, now time.Time, loc *time.Location) []string {
	var out []string
	switch action {
	case "update_transaction":
		if e.Has("tx_type") {
			out = append(out, "Jenis: "+e.String("tx_type"))
		}
		if n, ok := executor.ParseAmount(e["amount"]); ok && e.Has("amount") {
			out = append(out, "Jumlah: "+executor.FormatRupiah(n))
		}
		if e.Has("category") {
			out = append(out, "Kategori: "+e.String("category"))
		}
		if e.Has("note") {
			out = append(out, "Keterangan: "+e.String("note"))
		}
		if e.Has("occurred_at") {
			out = append(out, "Tanggal: "+dateOr(e.String("occurred_at"), now, now, loc, dateLayout))
		}
	case "update_schedule":
		if e.Has("new_title") {
			out = append(out, "Judul baru: "+e.String("new_title"))
		}
		if e.Has("start_time") {
			out = append(out, "Waktu mulai: "+dateOr(e.String("start_time"), now, now, loc, dateTimeLayout))
		}
		if e.Has("end_time") {
			out = append(out, "Waktu selesai: "+dateOr(e.String("end_time"), now, now, loc, dateTimeLayout))
		}
		if e.Has("location") {
			out = append(out, "Lokasi: "+e.String("location"))
		}
		if e.Has("description") {
			out = append(out, "Deskripsi: "+e.String("description"))
		}
	case "update_note":
		if e.Has("new_title") {
			out = append(out, "Judul baru: "+e.String("new_title"))
		}
		if e.Has("content") {
			out = append(out, "Isi: "+preview(e.String("content"), 200))
		}
		if tags := e.Strings("tags"); len(tags) > 0 {
			out = append(out, "Tags: "+strings.Join(tags, ", "))
		}
	}
	return out
}

func displayKeys(e intent.Entities) []string {
	var keys []string
	for _, k := range e.Keys() {
		if k != "plugin_slug" && e.Has(k) {
			keys = append(keys, k)
		}
	}
	return keys
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// dateOr formats s when it parses and falls back to def otherwise.
func dateOr(s string, now, def time.Time, loc *time.Location, layout string) string {
	if t, ok := executor.ParseTime(s, now, loc); ok {
		return t.In(loc).Format(layout)
	}
	return def.In(loc).Format(layout)
}
