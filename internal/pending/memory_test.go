package pending_test

import (
	"testing"

	"github.com/opentalon/aspri/internal/pending"
	"github.com/opentalon/aspri/internal/pending/pendingtest"
)

func TestMemoryStore(t *testing.T) {
	pendingtest.Run(t, func(*testing.T) pending.Store { return pending.NewMemoryStore() })
}
