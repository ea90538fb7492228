package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/tidwall/rtree"

	"github.com/SirClappington/jobbid/internal/domain"
	"github.com/SirClappington/jobbid/internal/geo"
)

// Memory is an in-process Store. Jobs are kept as private copies; every
// read hands out a clone. Locations are indexed in an R-tree so a radius
// query only visits jobs inside its bounding rectangles.
type Memory struct {
	mu    sync.RWMutex
	jobs  map[string]*domain.Job
	index rtree.RTreeG[string]
	seq   int64
	now   func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		jobs: make(map[string]*domain.Job),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

func (m *Memory) Create(_ context.Context, job *domain.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.jobs[job.ID]; exists {
		return ErrConflict
	}
	m.seq++
	now := m.now()
	job.Seq = m.seq
	job.Version = 0
	job.CreatedAt = now
	job.UpdatedAt = now
	if job.Bids == nil {
		job.Bids = []domain.Bid{}
	}

	m.jobs[job.ID] = job.Clone()
	p := geo.Point(job.Location)
	m.index.Insert(p, p, job.ID)
	return nil
}

func (m *Memory) Load(_ context.Context, id string) (*domain.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	j, ok := m.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return j.Clone(), nil
}

// mutate runs fn on the stored job after the version check. fn returns
// false to reject the write as a conflict.
func (m *Memory) mutate(jobID string, expectedVersion int64, fn func(j *domain.Job) bool) (Revision, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[jobID]
	if !ok {
		return Revision{}, ErrNotFound
	}
	if j.Version != expectedVersion {
		return Revision{}, ErrConflict
	}
	// Work on a copy so a rejected write leaves nothing behind.
	next := j.Clone()
	if !fn(next) {
		return Revision{}, ErrConflict
	}
	next.Version++
	next.UpdatedAt = m.now()
	m.jobs[jobID] = next
	return Revision{Version: next.Version, UpdatedAt: next.UpdatedAt}, nil
}

func (m *Memory) AppendBid(_ context.Context, jobID string, bid domain.Bid, expectedVersion int64) (Revision, error) {
	return m.mutate(jobID, expectedVersion, func(j *domain.Job) bool {
		if j.Status != domain.Open {
			return false
		}
		if _, dup := j.FindBid(bid.ID); dup {
			return false
		}
		j.Bids = append(j.Bids, bid)
		return true
	})
}

func (m *Memory) AcceptBid(_ context.Context, jobID, bidID string, expectedVersion int64) (Revision, error) {
	return m.mutate(jobID, expectedVersion, func(j *domain.Job) bool {
		if j.Status != domain.Open {
			return false
		}
		if _, taken := j.AcceptedBid(); taken {
			return false
		}
		i, ok := j.FindBid(bidID)
		if !ok {
			return false
		}
		j.Bids[i].Accepted = true
		j.Status = domain.Assigned
		return true
	})
}

func (m *Memory) SetStatus(_ context.Context, jobID string, from, to domain.Status, expectedVersion int64) (Revision, error) {
	return m.mutate(jobID, expectedVersion, func(j *domain.Job) bool {
		if j.Status != from {
			return false
		}
		j.Status = to
		return true
	})
}

func (m *Memory) QueryNear(_ context.Context, q NearQuery) ([]Nearby, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Nearby
	consider := func(id string) {
		j := m.jobs[id]
		if q.Status != "" && j.Status != q.Status {
			return
		}
		d := geo.Distance(q.Center, j.Location)
		if d > q.MaxDistance {
			return
		}
		out = append(out, Nearby{Job: j.Clone(), Distance: d})
	}

	for _, b := range geo.SearchBounds(q.Center, q.MaxDistance) {
		m.index.Search(b.Min, b.Max, func(_, _ [2]float64, id string) bool {
			consider(id)
			return true
		})
	}

	sortNearby(out)
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func sortNearby(out []Nearby) {
	sort.Slice(out, func(i, k int) bool {
		if out[i].Distance != out[k].Distance {
			return out[i].Distance < out[k].Distance
		}
		return out[i].Job.Seq < out[k].Job.Seq
	})
}
