package registry

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"espc3d/internal/pipeline"
)

func TestUpsert_LatestWins(t *testing.T) {
	r := New()
	r.Upsert(pipeline.TrackerRecord{ID: "t1", X: 1, Y: 2, Z: 0})
	r.Upsert(pipeline.TrackerRecord{ID: "t1", X: 3, Y: 4, Z: 0})

	snap := r.Snapshot()
	require.Len(t, snap, 1)
	require.Equal(t, pipeline.TrackerRecord{ID: "t1", X: 3, Y: 4, Z: 0}, snap["t1"])
}

func TestUpsert_FullReplacement(t *testing.T) {
	r := New()
	first, err := pipeline.Decode("espresense/companion/t1/attributes", []byte(`{"x":1,"y":1,"z":1,"room":"hall"}`))
	require.NoError(t, err)
	second, err := pipeline.Decode("espresense/companion/t1/attributes", []byte(`{"x":2}`))
	require.NoError(t, err)

	r.Upsert(first)
	r.Upsert(second)

	got, ok := r.Get("t1")
	require.True(t, ok)
	require.Equal(t, 2.0, got.X)
	require.Zero(t, got.Y)
	require.NotContains(t, got.Attrs, "room")
}

func TestSnapshot_IsIndependentCopy(t *testing.T) {
	r := New()
	r.Upsert(pipeline.TrackerRecord{ID: "t1", X: 1})

	snap := r.Snapshot()
	r.Upsert(pipeline.TrackerRecord{ID: "t2", X: 2})
	r.Upsert(pipeline.TrackerRecord{ID: "t1", X: 9})

	require.Len(t, snap, 1)
	require.Equal(t, 1.0, snap["t1"].X)
	require.Equal(t, 2, r.Len())
}

// Every update writes X == Y == Z; a torn read would break that equality.
func TestSnapshot_ConcurrentWithUpsertNeverTorn(t *testing.T) {
	r := New()
	const writes = 2000

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < writes; i++ {
			v := float64(i)
			r.Upsert(pipeline.TrackerRecord{ID: fmt.Sprintf("t%d", i%3), X: v, Y: v, Z: v})
		}
	}()

	for i := 0; i < 500; i++ {
		for id, rec := range r.Snapshot() {
			if rec.X != rec.Y || rec.Y != rec.Z || rec.ID != id {
				t.Fatalf("torn record %s: %+v", id, rec)
			}
		}
	}
	wg.Wait()
	require.Equal(t, 3, r.Len())
}
