package orchestrator

import (
	"fmt"
	"strings"

	"github.com/opentalon/aspri/internal/capability"
	"github.com/opentalon/aspri/internal/executor"
	"github.com/opentalon/aspri/internal/intent"
)

// clarify returns a question for the first mandatory entity missing from in,
// or "" when the intent can be staged. The question depends only on the
// entities, so resubmitting the same incomplete request asks the same thing.
func clarify(in intent.Intent, desc *capability.Descriptor, p persona) string {
	e := in.Entities
	switch in.Action {
	case "create_transaction":
		if n, ok := executor.ParseAmount(e["amount"]); !ok || n <= 0 {
			return fmt.Sprintf("Berapa jumlah transaksinya, %s? Contoh: \"50000\" atau \"50rb\".", p.call)
		}
	case "create_schedule":
		if !e.Has("title") {
			return fmt.Sprintf("Apa judul jadwalnya, %s?", p.call)
		}
	case "create_note":
		if !e.Has("content") {
			return fmt.Sprintf("Apa isi catatannya, %s?", p.call)
		}
	case "update_transaction", "delete_transaction":
		if !e.Has("transaction_id") && !e.Has("description") {
			return fmt.Sprintf("Transaksi yang mana, %s? Sebutkan keterangannya, misalnya \"makan siang\".", p.call)
		}
	case "update_schedule", "delete_schedule":
		if !e.Has("schedule_id") && !e.Has("title") {
			return fmt.Sprintf("Jadwal yang mana, %s? Sebutkan judulnya.", p.call)
		}
	case "update_note", "delete_note":
		if !e.Has("note_id") && !e.Has("title") {
			return fmt.Sprintf("Catatan yang mana, %s? Sebutkan judulnya.", p.call)
		}
	}

	if fields, ok := updatableFields[in.Action]; ok && !anyPresent(e, fields) {
		return fmt.Sprintf("Apa yang ingin diubah dari %s tersebut, %s?", subjectOf(in.Action), p.call)
	}

	if desc != nil {
		var missing []string
		for _, name := range desc.RequiredParams() {
			if name == capability.PluginSlugParam {
				continue
			}
			if !e.Has(name) {
				missing = append(missing, name)
			}
		}
		if len(missing) > 0 {
			return fmt.Sprintf("Saya masih butuh informasi berikut, %s: %s.", p.call, strings.Join(missing, ", "))
		}
	}
	return ""
}

var updatableFields = map[string][]string{
	"update_transaction": {"tx_type", "amount", "category", "note", "occurred_at"},
	"update_schedule":    {"new_title", "start_time", "end_time", "location", "description"},
	"update_note":        {"new_title", "content", "tags"},
}

func anyPresent(e intent.Entities, keys []string) bool {
	for _, k := range keys {
		if e.Has(k) {
			return true
		}
	}
	return false
}
