package sync

import (
	"fmt"
	"testing"
	"time"

	"github.com/mesapos/mesaposgo/internal/models"
)

func TestPruneCache_DropsExpired(t *testing.T) {
	now := time.Now().UTC()
	cache := map[string]models.IdempotencyRecord{
		"old-1":  {MutationID: "old-1", RecordedAt: now.Add(-3 * time.Hour)},
		"old-2":  {MutationID: "old-2", RecordedAt: now.Add(-2 * time.Hour)},
		"recent": {MutationID: "recent", RecordedAt: now.Add(-10 * time.Minute)},
	}

	pruneCache(cache, now.Add(-1*time.Hour), 0)

	if len(cache) != 1 {
		t.Fatalf("expected 1 entry left, got %d", len(cache))
	}
	if _, ok := cache["recent"]; !ok {
		t.Error("recent entry should have survived")
	}
}

func TestPruneCache_EnforcesTargetSize(t *testing.T) {
	now := time.Now().UTC()
	cache := make(map[string]models.IdempotencyRecord)
	for i := 0; i < 100; i++ {
		id := fmt.Sprintf("m-%d", i)
		cache[id] = models.IdempotencyRecord{MutationID: id, RecordedAt: now}
	}

	// Nothing is expired, but the cache must still shrink to the target
	pruneCache(cache, now.Add(-1*time.Hour), 40)

	if len(cache) > 40 {
		t.Fatalf("expected at most 40 entries, got %d", len(cache))
	}
}
