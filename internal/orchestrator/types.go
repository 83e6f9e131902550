package orchestrator

import (
	"time"

	"github.com/opentalon/aspri/internal/capability"
	"github.com/opentalon/aspri/internal/pending"
	"github.com/opentalon/aspri/internal/provider"
)

// Turn is one inbound user message. History holds earlier messages of the
// thread, oldest first, without the current message.
type Turn struct {
	UserID   string
	ThreadID string
	Message  string
	History  []provider.Message
}

// Reply is the outcome of a turn. ActionTaken is true only when a mutation
// executed during this turn; Pending is set when the turn staged an action
// that now waits for confirmation.
type Reply struct {
	Text        string          `json:"reply_text"`
	ActionTaken bool            `json:"action_taken"`
	Pending     *PendingSummary `json:"pending_action,omitempty"`
}

// PendingSummary describes a staged action to the transport.
type PendingSummary struct {
	ID        string            `json:"id"`
	Action    string            `json:"action"`
	Module    capability.Module `json:"module"`
	ExpiresAt time.Time         `json:"expires_at"`
	Entities  map[string]any    `json:"entities"`
}

func summarize(a *pending.Action) *PendingSummary {
	return &PendingSummary{
		ID:        a.ID,
		Action:    a.ActionType,
		Module:    a.Module,
		ExpiresAt: a.ExpiresAt,
		Entities:  a.Payload.Clone(),
	}
}
