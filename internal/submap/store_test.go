package submap

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/kabilan-n/tsdf-fusion/internal/spatial"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "submaps.db")
	s, err := OpenStore(path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStoreInsertAndByNumber(t *testing.T) {
	s := openTestStore(t)
	rec := Record{
		ID:             uuid.New(),
		Number:         3,
		Timestamp:      time.Unix(1000, 0).UTC(),
		SensorPosition: spatial.Vec3{X: 1, Y: 2, Z: 3},
		LayerPath:      "/data/voxblox_submap_3/volumetric_map.tsdf",
		TrajectoryPath: "/data/voxblox_submap_3/robot_trajectory.traj",
	}
	require.NoError(t, s.Insert(rec))

	got, err := s.ByNumber(3)
	require.NoError(t, err)
	assert.Equal(t, rec.ID, got.ID)
	assert.Equal(t, rec.LayerPath, got.LayerPath)
	assert.Equal(t, rec.SensorPosition, got.SensorPosition)
}

func TestStoreNearestPicksClosestTimestamp(t *testing.T) {
	s := openTestStore(t)
	for i, ts := range []int64{100, 500, 900} {
		require.NoError(t, s.Insert(Record{
			ID: uuid.New(), Number: i, Timestamp: time.Unix(0, ts),
			LayerPath: "l", TrajectoryPath: "t",
		}))
	}

	got, err := s.Nearest(time.Unix(0, 480))
	require.NoError(t, err)
	assert.Equal(t, 1, got.Number)
}

func TestStoreListOrdersByNumber(t *testing.T) {
	s := openTestStore(t)
	for _, n := range []int{5, 1, 3} {
		require.NoError(t, s.Insert(Record{
			ID: uuid.New(), Number: n, Timestamp: time.Now(),
			LayerPath: "l", TrajectoryPath: "t",
		}))
	}

	list, err := s.List()
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, []int{1, 3, 5}, []int{list[0].Number, list[1].Number, list[2].Number})
}

func TestStoreByNumberMissingReturnsError(t *testing.T) {
	s := openTestStore(t)
	_, err := s.ByNumber(42)
	assert.Error(t, err)
}
