package transform

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/kabilan-n/tsdf-fusion/internal/spatial"
)

// sample is one broadcast pose at a point in time.
type sample struct {
	at   time.Time
	pose spatial.Pose
}

// StaticTree is an in-memory, time-indexed buffer of broadcast poses,
// keyed by (frame, worldFrame) pair. It is "static" in the sense that it
// holds one independent timeline per frame pair rather than a full
// dynamic transform tree with chained lookups through intermediate
// frames — sufficient for this pipeline, where every sensor frame
// broadcasts its pose directly against a single world frame.
type StaticTree struct {
	mu      sync.RWMutex
	buffers map[string][]sample // key: frame+"\x00"+worldFrame, time-sorted
	maxAge  time.Duration
}

// NewStaticTree constructs an empty StaticTree. maxAge bounds how long a
// broadcast sample is retained before Prune discards it; zero disables
// pruning.
func NewStaticTree(maxAge time.Duration) *StaticTree {
	return &StaticTree{buffers: make(map[string][]sample), maxAge: maxAge}
}

func key(frame, worldFrame string) string {
	return frame + "\x00" + worldFrame
}

// Broadcast records a new pose observation for frame relative to
// worldFrame at time at. Samples must arrive in non-decreasing time
// order per frame pair; an out-of-order broadcast is inserted at the
// correct sorted position rather than rejected, since transport jitter
// can reorder delivery even when broadcast order was correct.
func (s *StaticTree) Broadcast(frame, worldFrame string, at time.Time, pose spatial.Pose) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := key(frame, worldFrame)
	buf := s.buffers[k]
	idx := sort.Search(len(buf), func(i int) bool { return buf[i].at.After(at) })
	buf = append(buf, sample{})
	copy(buf[idx+1:], buf[idx:])
	buf[idx] = sample{at: at, pose: pose}
	s.buffers[k] = buf
}

// Lookup implements the Lookup interface: linear interpolation in
// translation, and axis-angle-scaled interpolation in rotation, between
// the two samples bracketing at. Exact matches and lookups past the
// buffer's edges clamp to the nearest sample rather than erroring,
// matching typical transform-tree tolerance behavior; only a frame with
// no data at all, or none within the request falling inside the
// buffer's retained span, is an error.
func (s *StaticTree) Lookup(ctx context.Context, frame, worldFrame string, at time.Time) (spatial.Pose, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	buf := s.buffers[key(frame, worldFrame)]
	if len(buf) == 0 {
		return spatial.Pose{}, &ErrNoData{Frame: frame}
	}

	if s.maxAge > 0 {
		oldest := buf[0].at
		newest := buf[len(buf)-1].at
		if at.Before(oldest.Add(-s.maxAge)) || at.After(newest.Add(s.maxAge)) {
			return spatial.Pose{}, &ErrOutOfRange{Frame: frame, At: at}
		}
	}

	idx := sort.Search(len(buf), func(i int) bool { return !buf[i].at.Before(at) })
	switch {
	case idx == 0:
		return buf[0].pose, nil
	case idx == len(buf):
		return buf[len(buf)-1].pose, nil
	}

	lo, hi := buf[idx-1], buf[idx]
	if hi.at.Equal(lo.at) {
		return lo.pose, nil
	}
	frac := float64(at.Sub(lo.at)) / float64(hi.at.Sub(lo.at))
	return interpolatePose(lo.pose, hi.pose, frac), nil
}

// Prune discards samples older than maxAge relative to now, bounding
// memory for a long-running process. No-op if maxAge is zero.
func (s *StaticTree) Prune(now time.Time) {
	if s.maxAge <= 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := now.Add(-s.maxAge)
	for k, buf := range s.buffers {
		i := sort.Search(len(buf), func(i int) bool { return buf[i].at.After(cutoff) })
		if i > 0 {
			s.buffers[k] = append([]sample(nil), buf[i:]...)
		}
	}
}

// interpolatePose linearly interpolates translation and scales the
// relative rotation's axis-angle by frac — a cheap slerp approximation
// adequate for the small inter-broadcast rotations this pipeline sees.
func interpolatePose(a, b spatial.Pose, frac float64) spatial.Pose {
	t := spatial.Vec3{
		X: a.T.X + (b.T.X-a.T.X)*frac,
		Y: a.T.Y + (b.T.Y-a.T.Y)*frac,
		Z: a.T.Z + (b.T.Z-a.T.Z)*frac,
	}
	relR := a.R.Transpose().Mul(b.R)
	axisAngle := spatial.LogSO3(relR)
	scaled := axisAngle.Scale(frac)
	r := spatial.ExpSE3([6]float64{0, 0, 0, scaled.X, scaled.Y, scaled.Z}).R
	return spatial.Pose{R: a.R.Mul(r), T: t}
}
