package storage

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/SirClappington/jobbid/internal/domain"
)

var (
	ErrNotFound = errors.New("job not found")
	// ErrConflict means the stored version no longer matches the version the
	// caller read, or the row is no longer in the state the write assumes.
	ErrConflict = errors.New("job version conflict")
)

// Store is the durable home of jobs. Every mutating call is a
// compare-and-save against expectedVersion and changes only what the
// call names; a successful write bumps the stored version by one and
// returns the stored Revision.
type Store interface {
	// Create assigns Seq, Version (0), CreatedAt and UpdatedAt on job.
	Create(ctx context.Context, job *domain.Job) error
	Load(ctx context.Context, id string) (*domain.Job, error)

	// AppendBid adds bid at the end of the job's bid list. The job must
	// still be open.
	AppendBid(ctx context.Context, jobID string, bid domain.Bid, expectedVersion int64) (Revision, error)
	// AcceptBid flips bidID to accepted and moves the job from open to
	// assigned in one write.
	AcceptBid(ctx context.Context, jobID, bidID string, expectedVersion int64) (Revision, error)
	SetStatus(ctx context.Context, jobID string, from, to domain.Status, expectedVersion int64) (Revision, error)

	// QueryNear returns jobs within q.MaxDistance meters of q.Center,
	// nearest first, ties by creation order. Without q.Limit every match
	// is returned.
	QueryNear(ctx context.Context, q NearQuery) ([]Nearby, error)
}

// Revision is what a successful write left in the store.
type Revision struct {
	Version   int64
	UpdatedAt time.Time
}

type NearQuery struct {
	Center      domain.Point
	MaxDistance float64
	// Status restricts results when set.
	Status domain.Status
	// Limit caps the result count when > 0; 0 means no cap.
	Limit int
}

type Nearby struct {
	Job      *domain.Job
	Distance float64
}
