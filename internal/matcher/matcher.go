// Package matcher answers discovery queries: open jobs near a point. It
// reads straight from the store without taking any job lock, so a result
// can be stale by the time the caller sees it.
package matcher

import (
	"context"
	"math"
	"sort"

	"github.com/pkg/errors"

	"github.com/SirClappington/jobbid/internal/domain"
	"github.com/SirClappington/jobbid/internal/geo"
	"github.com/SirClappington/jobbid/internal/storage"
)

const (
	DefaultRadius = 10000.0
	MaxRadius     = 50000.0
)

type Match struct {
	Job      *domain.Job `json:"job"`
	Distance float64     `json:"distance"`
}

type Matcher struct {
	store         storage.Store
	defaultRadius float64
	maxRadius     float64
}

func New(store storage.Store, defaultRadius, maxRadius float64) *Matcher {
	if defaultRadius <= 0 {
		defaultRadius = DefaultRadius
	}
	if maxRadius <= 0 {
		maxRadius = MaxRadius
	}
	if defaultRadius > maxRadius {
		defaultRadius = maxRadius
	}
	return &Matcher{store: store, defaultRadius: defaultRadius, maxRadius: maxRadius}
}

// FindOpenJobsNear returns open jobs within maxDistance meters of point,
// nearest first, equal distances oldest first. Every open job in range is
// returned; the radius bound is what keeps the answer small. A
// maxDistance of 0 means the default radius.
func (m *Matcher) FindOpenJobsNear(ctx context.Context, point domain.Point, maxDistance float64) ([]Match, error) {
	if !geo.Valid(point) {
		return nil, domain.Errorf(domain.KindValidation, "point must be lng in [-180,180] and lat in [-90,90]")
	}
	if maxDistance == 0 {
		maxDistance = m.defaultRadius
	}
	if !(maxDistance > 0) || math.IsInf(maxDistance, 1) {
		return nil, domain.Errorf(domain.KindValidation, "maxDistance must be a positive number of meters")
	}
	if maxDistance > m.maxRadius {
		return nil, domain.Errorf(domain.KindValidation, "maxDistance may not exceed %.0f meters", m.maxRadius)
	}

	found, err := m.store.QueryNear(ctx, storage.NearQuery{
		Center:      point,
		MaxDistance: maxDistance,
		Status:      domain.Open,
	})
	if err != nil {
		return nil, errors.Wrap(err, "query nearby jobs")
	}

	out := make([]Match, 0, len(found))
	for _, n := range found {
		// Stores filter by status already; this keeps the contract even
		// for one that does not.
		if n.Job.Status != domain.Open {
			continue
		}
		out = append(out, Match{Job: n.Job, Distance: n.Distance})
	}
	sort.SliceStable(out, func(i, k int) bool {
		if out[i].Distance != out[k].Distance {
			return out[i].Distance < out[k].Distance
		}
		return out[i].Job.Seq < out[k].Job.Seq
	})
	return out, nil
}
