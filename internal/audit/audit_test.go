package audit

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryRecorder_Record(t *testing.T) {
	r := NewMemoryRecorder()

	err := r.Record(context.Background(), Entry{
		Actor:   "backup-service",
		Action:  "backup.table",
		Status:  StatusSuccess,
		Subject: "Properties",
		Detail:  "run_date=2026-08-28 records=42",
	})
	require.NoError(t, err)

	entries := r.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, int64(1), entries[0].ID)
	assert.Equal(t, "backup.table", entries[0].Action)
	assert.Equal(t, StatusSuccess, entries[0].Status)
	assert.False(t, entries[0].OccurredAt.IsZero())
}

func TestMemoryRecorder_AppendOrder(t *testing.T) {
	r := NewMemoryRecorder()

	for _, action := range []string{"webhook.accept", "document.dispatch", "record.writeback"} {
		require.NoError(t, r.Record(context.Background(), Entry{Action: action, Status: StatusSuccess}))
	}

	entries := r.Entries()
	require.Len(t, entries, 3)
	assert.Equal(t, "webhook.accept", entries[0].Action)
	assert.Equal(t, "document.dispatch", entries[1].Action)
	assert.Equal(t, "record.writeback", entries[2].Action)

	// IDs are sequential in append order
	for i, e := range entries {
		assert.Equal(t, int64(i+1), e.ID)
	}
}

func TestMemoryRecorder_EntriesReturnsCopy(t *testing.T) {
	r := NewMemoryRecorder()
	require.NoError(t, r.Record(context.Background(), Entry{Action: "backup.run", Status: StatusSuccess}))

	entries := r.Entries()
	entries[0].Action = "mutated"

	assert.Equal(t, "backup.run", r.Entries()[0].Action)
}

func TestMemoryRecorder_ConcurrentAppends(t *testing.T) {
	r := NewMemoryRecorder()

	const writers = 20
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = r.Record(context.Background(), Entry{Action: "document.dispatch", Status: StatusSuccess})
		}()
	}
	wg.Wait()

	entries := r.Entries()
	assert.Len(t, entries, writers)

	// Every entry is whole: no interleaving within an entry
	seen := make(map[int64]bool)
	for _, e := range entries {
		assert.Equal(t, "document.dispatch", e.Action)
		assert.False(t, seen[e.ID], "duplicate id %d", e.ID)
		seen[e.ID] = true
	}
}
