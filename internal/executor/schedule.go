package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/opentalon/aspri/internal/domain"
	"github.com/opentalon/aspri/internal/intent"
)

func (e *Executor) createSchedule(ctx context.Context, userID string, p intent.Entities) Result {
	title := p.String("title")
	if title == "" {
		return fail("Gagal membuat jadwal: judul wajib diisi")
	}
	now := e.clock()
	start := now.Add(time.Hour)
	if s := p.String("start_time"); s != "" {
		t, valid := ParseTime(s, now, e.loc)
		if !valid {
			return fail("Gagal membuat jadwal: waktu mulai tidak valid")
		}
		start = t
	}
	end := start.Add(time.Hour)
	if s := p.String("end_time"); s != "" {
		t, valid := ParseTime(s, now, e.loc)
		if !valid {
			return fail("Gagal membuat jadwal: waktu selesai tidak valid")
		}
		end = t
	}
	if end.Before(start) {
		return fail("Gagal membuat jadwal: waktu selesai sebelum waktu mulai")
	}

	s := &domain.Schedule{
		UserID:      userID,
		Title:       title,
		Description: p.String("description"),
		Location:    p.String("location"),
		StartTime:   start,
		EndTime:     end,
	}
	if err := e.deps.Schedules.CreateSchedule(ctx, s); err != nil {
		return fail("Gagal membuat jadwal: %v", err)
	}
	return ok(fmt.Sprintf("Jadwal %q berhasil dibuat untuk %s!", title, start.Format(dateTimeLayout)), e.scheduleData(s))
}

func (e *Executor) scheduleData(s *domain.Schedule) map[string]any {
	return map[string]any{
		"schedule_id": s.ID,
		"title":       s.Title,
		"start_time":  s.StartTime.In(e.loc).Format(dateTimeLayout),
		"end_time":    s.EndTime.In(e.loc).Format(dateTimeLayout),
		"location":    s.Location,
	}
}

// findSchedule resolves the target by id, or else by the most recently
// created schedule whose title contains the given title.
func (e *Executor) findSchedule(ctx context.Context, userID string, p intent.Entities) (*domain.Schedule, error) {
	if id := p.String("schedule_id"); id != "" {
		return e.deps.Schedules.GetSchedule(ctx, userID, id)
	}
	if title := p.String("title"); title != "" {
		return e.deps.Schedules.LatestScheduleMatching(ctx, userID, title)
	}
	return nil, domain.ErrNotFound
}

func (e *Executor) updateSchedule(ctx context.Context, userID string, p intent.Entities) Result {
	s, err := e.findSchedule(ctx, userID, p)
	if err != nil {
		return failure(err, "Jadwal tidak ditemukan", "Gagal memperbarui jadwal")
	}

	now := e.clock()
	changed := false
	if v := p.String("new_title"); v != "" {
		s.Title = v
		changed = true
	}
	if p.Has("start_time") {
		t, valid := ParseTime(p.String("start_time"), now, e.loc)
		if !valid {
			return fail("Gagal memperbarui jadwal: waktu mulai tidak valid")
		}
		if !p.Has("end_time") && !s.EndTime.IsZero() {
			s.EndTime = t.Add(s.EndTime.Sub(s.StartTime))
		}
		s.StartTime = t
		changed = true
	}
	if p.Has("end_time") {
		t, valid := ParseTime(p.String("end_time"), now, e.loc)
		if !valid {
			return fail("Gagal memperbarui jadwal: waktu selesai tidak valid")
		}
		s.EndTime = t
		changed = true
	}
	if p.Has("location") {
		s.Location = p.String("location")
		changed = true
	}
	if p.Has("description") {
		s.Description = p.String("description")
		changed = true
	}
	if !changed {
		return fail("Tidak ada perubahan untuk jadwal ini")
	}
	if !s.EndTime.IsZero() && s.EndTime.Before(s.StartTime) {
		return fail("Gagal memperbarui jadwal: waktu selesai sebelum waktu mulai")
	}

	if err := e.deps.Schedules.UpdateSchedule(ctx, s); err != nil {
		return failure(err, "Jadwal tidak ditemukan", "Gagal memperbarui jadwal")
	}
	return ok(fmt.Sprintf("Jadwal %q berhasil diperbarui!", s.Title), e.scheduleData(s))
}

func (e *Executor) deleteSchedule(ctx context.Context, userID string, p intent.Entities) Result {
	s, err := e.findSchedule(ctx, userID, p)
	if err != nil {
		return failure(err, "Jadwal tidak ditemukan", "Gagal menghapus jadwal")
	}
	if err := e.deps.Schedules.DeleteSchedule(ctx, userID, s.ID); err != nil {
		return failure(err, "Jadwal tidak ditemukan", "Gagal menghapus jadwal")
	}
	return ok(fmt.Sprintf("Jadwal %q berhasil dihapus!", s.Title), nil)
}
