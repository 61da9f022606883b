package transform

import (
	"context"
	"testing"
	"time"

	"github.com/kabilan-n/tsdf-fusion/internal/spatial"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLookupUnknownFrameReturnsErrNoData(t *testing.T) {
	tree := NewStaticTree(0)
	_, err := tree.Lookup(context.Background(), "lidar", "world", time.Now())
	require.Error(t, err)
	var noData *ErrNoData
	assert.ErrorAs(t, err, &noData)
}

func TestLookupInterpolatesTranslationBetweenBroadcasts(t *testing.T) {
	tree := NewStaticTree(0)
	t0 := time.Unix(0, 0)
	t1 := t0.Add(time.Second)

	tree.Broadcast("lidar", "world", t0, spatial.Pose{R: spatial.Identity3(), T: spatial.Vec3{X: 0}})
	tree.Broadcast("lidar", "world", t1, spatial.Pose{R: spatial.Identity3(), T: spatial.Vec3{X: 10}})

	mid := t0.Add(500 * time.Millisecond)
	pose, err := tree.Lookup(context.Background(), "lidar", "world", mid)
	require.NoError(t, err)
	assert.InDelta(t, 5, pose.T.X, 1e-9)
}

func TestLookupClampsBeforeFirstAndAfterLastSample(t *testing.T) {
	tree := NewStaticTree(0)
	t0 := time.Unix(100, 0)
	t1 := time.Unix(200, 0)
	tree.Broadcast("lidar", "world", t0, spatial.Pose{R: spatial.Identity3(), T: spatial.Vec3{X: 1}})
	tree.Broadcast("lidar", "world", t1, spatial.Pose{R: spatial.Identity3(), T: spatial.Vec3{X: 2}})

	before, err := tree.Lookup(context.Background(), "lidar", "world", time.Unix(0, 0))
	require.NoError(t, err)
	assert.InDelta(t, 1, before.T.X, 1e-9)

	after, err := tree.Lookup(context.Background(), "lidar", "world", time.Unix(999, 0))
	require.NoError(t, err)
	assert.InDelta(t, 2, after.T.X, 1e-9)
}

func TestLookupOutOfRangeErrorsWhenMaxAgeSet(t *testing.T) {
	tree := NewStaticTree(time.Second)
	t0 := time.Unix(100, 0)
	tree.Broadcast("lidar", "world", t0, spatial.Pose{R: spatial.Identity3()})

	_, err := tree.Lookup(context.Background(), "lidar", "world", t0.Add(time.Hour))
	require.Error(t, err)
	var outOfRange *ErrOutOfRange
	assert.ErrorAs(t, err, &outOfRange)
}

func TestBroadcastOutOfOrderInsertsSorted(t *testing.T) {
	tree := NewStaticTree(0)
	t0 := time.Unix(0, 0)
	t2 := t0.Add(2 * time.Second)
	t1 := t0.Add(time.Second)

	tree.Broadcast("lidar", "world", t0, spatial.Pose{T: spatial.Vec3{X: 0}, R: spatial.Identity3()})
	tree.Broadcast("lidar", "world", t2, spatial.Pose{T: spatial.Vec3{X: 20}, R: spatial.Identity3()})
	tree.Broadcast("lidar", "world", t1, spatial.Pose{T: spatial.Vec3{X: 10}, R: spatial.Identity3()})

	pose, err := tree.Lookup(context.Background(), "lidar", "world", t1)
	require.NoError(t, err)
	assert.InDelta(t, 10, pose.T.X, 1e-9)
}

func TestPruneDiscardsOldSamples(t *testing.T) {
	tree := NewStaticTree(time.Second)
	t0 := time.Unix(0, 0)
	tree.Broadcast("lidar", "world", t0, spatial.Pose{R: spatial.Identity3()})

	tree.Prune(t0.Add(time.Hour))

	tree.mu.RLock()
	buf := tree.buffers[key("lidar", "world")]
	tree.mu.RUnlock()
	assert.Empty(t, buf)
}
