package executor

import (
	"context"
	"fmt"

	"github.com/opentalon/aspri/internal/domain"
	"github.com/opentalon/aspri/internal/intent"
)

func (e *Executor) createNote(ctx context.Context, userID string, p intent.Entities) Result {
	content := p.String("content")
	if content == "" {
		return fail("Gagal menyimpan catatan: isi catatan wajib diisi")
	}
	title := p.String("title")
	if title == "" {
		title = "Catatan " + e.clock().Format(dateTimeLayout)
	}
	n := &domain.Note{
		UserID:  userID,
		Title:   title,
		Content: content,
		Tags:    p.Strings("tags"),
	}
	if err := e.deps.Notes.CreateNote(ctx, n); err != nil {
		return fail("Gagal menyimpan catatan: %v", err)
	}
	return ok(fmt.Sprintf("Catatan %q berhasil disimpan!", title), map[string]any{
		"note_id": n.ID,
		"title":   n.Title,
		"content": preview(n.Content, 100),
	})
}

// findNote resolves the target by id, or else by the most recently created
// note whose title contains the given title.
func (e *Executor) findNote(ctx context.Context, userID string, p intent.Entities) (*domain.Note, error) {
	if id := p.String("note_id"); id != "" {
		return e.deps.Notes.GetNote(ctx, userID, id)
	}
	if title := p.String("title"); title != "" {
		return e.deps.Notes.LatestNoteMatching(ctx, userID, title)
	}
	return nil, domain.ErrNotFound
}

func (e *Executor) updateNote(ctx context.Context, userID string, p intent.Entities) Result {
	n, err := e.findNote(ctx, userID, p)
	if err != nil {
		return failure(err, "Catatan tidak ditemukan", "Gagal memperbarui catatan")
	}
	changed := false
	if v := p.String("new_title"); v != "" {
		n.Title = v
		changed = true
	}
	if v := p.String("content"); v != "" {
		n.Content = v
		changed = true
	}
	if p.Has("tags") {
		n.Tags = p.Strings("tags")
		changed = true
	}
	if !changed {
		return fail("Tidak ada perubahan untuk catatan ini")
	}
	if err := e.deps.Notes.UpdateNote(ctx, n); err != nil {
		return failure(err, "Catatan tidak ditemukan", "Gagal memperbarui catatan")
	}
	return ok(fmt.Sprintf("Catatan %q berhasil diperbarui!", n.Title), map[string]any{
		"note_id": n.ID,
		"title":   n.Title,
		"content": preview(n.Content, 100),
	})
}

func (e *Executor) deleteNote(ctx context.Context, userID string, p intent.Entities) Result {
	n, err := e.findNote(ctx, userID, p)
	if err != nil {
		return failure(err, "Catatan tidak ditemukan", "Gagal menghapus catatan")
	}
	if err := e.deps.Notes.DeleteNote(ctx, userID, n.ID); err != nil {
		return failure(err, "Catatan tidak ditemukan", "Gagal menghapus catatan")
	}
	return ok(fmt.Sprintf("Catatan %q berhasil dihapus!", n.Title), nil)
}
