package datastore

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polybot/yolo-service/internal/errors"
)

// steppingClock returns a strictly increasing time on every call so ordering
// by timestamp is deterministic.
type steppingClock struct {
	mu   sync.Mutex
	next time.Time
}

func newSteppingClock() *steppingClock {
	return &steppingClock{next: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *steppingClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.next
	c.next = c.next.Add(time.Second)
	return t
}

// storeFactory returns an opened store using clock for session timestamps.
type storeFactory func(t *testing.T, clock func() time.Time) Interface

// runStoreContract exercises the behaviour every backend must share.
func runStoreContract(t *testing.T, newStore storeFactory) {
	t.Helper()

	t.Run("SavePredictionIsIdempotent", func(t *testing.T) {
		ctx := context.Background()
		store := newStore(t, newSteppingClock().Now)

		require.NoError(t, store.SavePrediction(ctx, "uid-1", "orig/a.jpg", "pred/a.jpg"))
		require.NoError(t, store.SavePrediction(ctx, "uid-1", "orig/other.jpg", "pred/other.jpg"))
		require.NoError(t, store.SaveDetection(ctx, "uid-1", "cat", 0.9, BoundingBox{1, 2, 3, 4}))

		view, err := store.GetPrediction(ctx, "uid-1")
		require.NoError(t, err)
		assert.Equal(t, "orig/a.jpg", view.OriginalImage, "second save must not overwrite")
		assert.Equal(t, "pred/a.jpg", view.PredictedImage)
		assert.Equal(t, []string{"cat"}, view.Labels, "second save must not reset detections")

		rows, err := store.GetPredictionsByScore(ctx, 0)
		require.NoError(t, err)
		require.Len(t, rows, 1)
		assert.Equal(t, "uid-1", rows[0].UID)
	})

	t.Run("SaveDetectionRequiresSession", func(t *testing.T) {
		ctx := context.Background()
		store := newStore(t, newSteppingClock().Now)

		err := store.SaveDetection(ctx, "missing", "dog", 0.5, BoundingBox{0, 0, 1, 1})
		require.Error(t, err)
		assert.True(t, errors.IsNotFound(err), "got %v", err)

		_, err = store.GetPrediction(ctx, "missing")
		assert.True(t, errors.IsNotFound(err), "failed detection must not create a session")
	})

	t.Run("GetPredictionAggregatesInOrder", func(t *testing.T) {
		ctx := context.Background()
		store := newStore(t, newSteppingClock().Now)

		require.NoError(t, store.SavePrediction(ctx, "uid-2", "o.jpg", "p.jpg"))
		require.NoError(t, store.SaveDetection(ctx, "uid-2", "person", 0.87, BoundingBox{10, 20, 30, 40}))
		require.NoError(t, store.SaveDetection(ctx, "uid-2", "bicycle", 0.42, BoundingBox{5.5, 6.25, 7, 8}))

		view, err := store.GetPrediction(ctx, "uid-2")
		require.NoError(t, err)
		assert.Equal(t, "uid-2", view.UID)
		assert.Equal(t, "o.jpg", view.OriginalImage)
		assert.Equal(t, "p.jpg", view.PredictedImage)
		assert.Equal(t, []string{"person", "bicycle"}, view.Labels)
		assert.InDeltaSlice(t, []float64{0.87, 0.42}, view.Scores, 1e-9)
		assert.Equal(t, []BoundingBox{{10, 20, 30, 40}, {5.5, 6.25, 7, 8}}, view.Boxes)
		assert.False(t, view.Timestamp.IsZero())
	})

	t.Run("GetPredictionWithoutDetections", func(t *testing.T) {
		ctx := context.Background()
		store := newStore(t, newSteppingClock().Now)

		require.NoError(t, store.SavePrediction(ctx, "uid-empty", "o.jpg", "p.jpg"))
		view, err := store.GetPrediction(ctx, "uid-empty")
		require.NoError(t, err)
		assert.NotNil(t, view.Labels)
		assert.Empty(t, view.Labels)
		assert.Empty(t, view.Boxes)
	})

	t.Run("GetPredictionUnknownUID", func(t *testing.T) {
		store := newStore(t, newSteppingClock().Now)

		view, err := store.GetPrediction(context.Background(), "does-not-exist")
		require.Error(t, err)
		assert.Nil(t, view)
		assert.True(t, errors.IsNotFound(err))
	})

	t.Run("GetPredictionsByScoreDistinctNewestFirst", func(t *testing.T) {
		ctx := context.Background()
		store := newStore(t, newSteppingClock().Now)

		// oldest → newest: a, b, c, d
		for _, uid := range []string{"a", "b", "c", "d"} {
			require.NoError(t, store.SavePrediction(ctx, uid, uid+".jpg", uid+"_p.jpg"))
		}
		// a: two qualifying detections, must appear once
		require.NoError(t, store.SaveDetection(ctx, "a", "cat", 0.95, BoundingBox{}))
		require.NoError(t, store.SaveDetection(ctx, "a", "cat", 0.91, BoundingBox{}))
		// b: below threshold only
		require.NoError(t, store.SaveDetection(ctx, "b", "dog", 0.3, BoundingBox{}))
		// c: exactly at threshold qualifies
		require.NoError(t, store.SaveDetection(ctx, "c", "dog", 0.5, BoundingBox{}))
		require.NoError(t, store.SaveDetection(ctx, "c", "cat", 0.1, BoundingBox{}))
		// d: no detections

		rows, err := store.GetPredictionsByScore(ctx, 0.5)
		require.NoError(t, err)
		uids := make([]string, 0, len(rows))
		for _, r := range rows {
			uids = append(uids, r.UID)
		}
		assert.Equal(t, []string{"c", "a"}, uids)
		assert.True(t, rows[0].Timestamp.After(rows[1].Timestamp))

		rows, err = store.GetPredictionsByScore(ctx, 0.99)
		require.NoError(t, err)
		assert.NotNil(t, rows)
		assert.Empty(t, rows)

		rows, err = store.GetPredictionsByScore(ctx, 0)
		require.NoError(t, err)
		assert.Len(t, rows, 3, "sessions without detections never match")
	})

	t.Run("RejectsInvalidArguments", func(t *testing.T) {
		ctx := context.Background()
		store := newStore(t, newSteppingClock().Now)
		require.NoError(t, store.SavePrediction(ctx, "uid-v", "o", "p"))

		err := store.SavePrediction(ctx, "", "o", "p")
		assert.True(t, errors.IsCategory(err, errors.CategoryValidation))

		err = store.SaveDetection(ctx, "uid-v", "cat", 1.5, BoundingBox{})
		assert.True(t, errors.IsCategory(err, errors.CategoryValidation))

		err = store.SaveDetection(ctx, "uid-v", "", 0.5, BoundingBox{})
		assert.True(t, errors.IsCategory(err, errors.CategoryValidation))

		view, err := store.GetPrediction(ctx, "uid-v")
		require.NoError(t, err)
		assert.Empty(t, view.Labels)
	})

	t.Run("ConcurrentDetectionsAreNotLost", func(t *testing.T) {
		ctx := context.Background()
		store := newStore(t, newSteppingClock().Now)
		require.NoError(t, store.SavePrediction(ctx, "uid-c", "o", "p"))

		const writers = 16
		var wg sync.WaitGroup
		errs := make(chan error, writers)
		for i := range writers {
			wg.Go(func() {
				errs <- store.SaveDetection(ctx, "uid-c", fmt.Sprintf("obj-%d", i), 0.5, BoundingBox{float64(i), 0, 1, 1})
			})
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			require.NoError(t, err)
		}

		view, err := store.GetPrediction(ctx, "uid-c")
		require.NoError(t, err)
		assert.Len(t, view.Labels, writers)
	})
}
