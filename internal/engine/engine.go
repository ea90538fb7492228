// Package engine owns the job lifecycle (open → assigned → completed) and
// the bid ledger of each job.
//
// Every write to a job runs read → validate → mutate → persist → publish
// while holding that job's lock, so writers of one job are totally
// ordered and their events go out in the same order. Writers of different
// jobs never share a lock. Stores additionally check the version that was
// read, which catches writers on other instances.
package engine

import (
	"context"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/SirClappington/jobbid/internal/domain"
	"github.com/SirClappington/jobbid/internal/geo"
	"github.com/SirClappington/jobbid/internal/joblock"
	"github.com/SirClappington/jobbid/internal/storage"
)

const (
	DefaultLockTimeout   = 2 * time.Second
	DefaultMaxBidsPerJob = 500

	maxTitleLen       = 200
	maxDescriptionLen = 5000
)

// Publisher receives events after they are persisted. Implementations
// must not block for long and must not fail the write: delivery problems
// are theirs to handle.
type Publisher interface {
	Publish(ctx context.Context, jobID string, ev domain.Event)
}

type Options struct {
	// LockTimeout bounds how long a write waits for its job's lock.
	LockTimeout time.Duration
	// MaxBidsPerJob caps a job's bid list; 0 means DefaultMaxBidsPerJob.
	MaxBidsPerJob int
	Now           func() time.Time
	NewID         func() string
}

type Engine struct {
	store storage.Store
	locks *joblock.Locker
	pub   Publisher
	log   *zap.Logger
	opts  Options
}

func New(store storage.Store, pub Publisher, log *zap.Logger, opts Options) *Engine {
	if opts.LockTimeout <= 0 {
		opts.LockTimeout = DefaultLockTimeout
	}
	if opts.MaxBidsPerJob <= 0 {
		opts.MaxBidsPerJob = DefaultMaxBidsPerJob
	}
	if opts.Now == nil {
		// Postgres keeps microseconds; match it so stored and returned
		// timestamps compare equal.
		opts.Now = func() time.Time { return time.Now().UTC().Truncate(time.Microsecond) }
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{
		store: store,
		locks: joblock.New(),
		pub:   pub,
		log:   log,
		opts:  opts,
	}
}

type NewJob struct {
	Title          string       `json:"title"`
	Description    string       `json:"description"`
	Location       domain.Point `json:"location"`
	SuggestedPrice *float64     `json:"suggestedPrice,omitempty"`
}

func (n NewJob) validate() error {
	switch {
	case strings.TrimSpace(n.Title) == "":
		return domain.Errorf(domain.KindValidation, "title is required")
	case len(n.Title) > maxTitleLen:
		return domain.Errorf(domain.KindValidation, "title is longer than %d bytes", maxTitleLen)
	case strings.TrimSpace(n.Description) == "":
		return domain.Errorf(domain.KindValidation, "description is required")
	case len(n.Description) > maxDescriptionLen:
		return domain.Errorf(domain.KindValidation, "description is longer than %d bytes", maxDescriptionLen)
	case !geo.Valid(n.Location):
		return domain.Errorf(domain.KindValidation, "location must be lng in [-180,180] and lat in [-90,90]")
	case n.SuggestedPrice != nil && !(*n.SuggestedPrice >= 0 && !math.IsInf(*n.SuggestedPrice, 1)):
		return domain.Errorf(domain.KindValidation, "suggestedPrice must be a non-negative number")
	}
	return nil
}

func (e *Engine) CreateJob(ctx context.Context, client domain.Principal, in NewJob) (*domain.Job, error) {
	if client.Role != domain.RoleClient {
		return nil, domain.Errorf(domain.KindAuthorization, "only clients can post jobs")
	}
	if err := in.validate(); err != nil {
		return nil, err
	}

	job := &domain.Job{
		ID:          e.opts.NewID(),
		ClientID:    client.ID,
		Title:       strings.TrimSpace(in.Title),
		Description: strings.TrimSpace(in.Description),
		Status:      domain.Open,
		Location:    in.Location,
		Bids:        []domain.Bid{},
	}
	if in.SuggestedPrice != nil {
		p := *in.SuggestedPrice
		job.SuggestedPrice = &p
	}
	if err := e.store.Create(ctx, job); err != nil {
		return nil, e.storeErr(err, job.ID)
	}
	e.log.Info("job created", zap.String("job_id", job.ID), zap.String("client_id", client.ID))
	return job, nil
}

func (e *Engine) GetJob(ctx context.Context, jobID string) (*domain.Job, error) {
	j, err := e.store.Load(ctx, jobID)
	if err != nil {
		return nil, e.storeErr(err, jobID)
	}
	return j, nil
}

func (e *Engine) SubmitBid(ctx context.Context, artisan domain.Principal, jobID string, amount float64) (*domain.Bid, error) {
	if artisan.Role != domain.RoleArtisan {
		return nil, domain.Errorf(domain.KindAuthorization, "only artisans can place bids")
	}
	if !(amount > 0) || math.IsInf(amount, 1) {
		return nil, domain.Errorf(domain.KindValidation, "amount must be a positive number")
	}

	var bid domain.Bid
	err := e.withJob(ctx, jobID, func(j *domain.Job) error {
		if j.Status != domain.Open {
			return domain.Errorf(domain.KindInvalidState, "job %s is no longer open for bids", j.ID)
		}
		if len(j.Bids) >= e.opts.MaxBidsPerJob {
			return domain.Errorf(domain.KindInvalidState, "job %s already has %d bids", j.ID, len(j.Bids))
		}

		bid = domain.Bid{
			ID:        e.opts.NewID(),
			ArtisanID: artisan.ID,
			Amount:    amount,
			CreatedAt: e.opts.Now(),
		}
		rev, err := e.store.AppendBid(ctx, j.ID, bid, j.Version)
		if err != nil {
			return e.storeErr(err, j.ID)
		}

		e.log.Debug("bid created",
			zap.String("job_id", j.ID), zap.String("bid_id", bid.ID), zap.Int64("version", rev.Version))
		e.pub.Publish(ctx, j.ID, domain.Event{
			Type:  domain.EventBidCreated,
			JobID: j.ID,
			Seq:   rev.Version,
			Bid:   bid,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &bid, nil
}

func (e *Engine) AcceptBid(ctx context.Context, client domain.Principal, jobID, bidID string) (*domain.Job, error) {
	var out *domain.Job
	err := e.withJob(ctx, jobID, func(j *domain.Job) error {
		if err := requireOwner(client, j); err != nil {
			return err
		}
		if j.Status != domain.Open {
			return domain.Errorf(domain.KindInvalidState, "job %s is %s, a bid can only be accepted while it is open", j.ID, j.Status)
		}
		i, ok := j.FindBid(bidID)
		if !ok {
			return domain.Errorf(domain.KindNotFound, "bid %s not found on job %s", bidID, j.ID)
		}
		if j.Bids[i].Accepted {
			return domain.Errorf(domain.KindInvalidState, "bid %s is already accepted", bidID)
		}

		rev, err := e.store.AcceptBid(ctx, j.ID, bidID, j.Version)
		if err != nil {
			return e.storeErr(err, j.ID)
		}
		j.Bids[i].Accepted = true
		j.Status = domain.Assigned
		j.Version = rev.Version
		j.UpdatedAt = rev.UpdatedAt

		e.log.Info("bid accepted",
			zap.String("job_id", j.ID), zap.String("bid_id", bidID), zap.Int64("version", rev.Version))
		e.pub.Publish(ctx, j.ID, domain.Event{
			Type:  domain.EventBidAccepted,
			JobID: j.ID,
			Seq:   rev.Version,
			Bid:   j.Bids[i],
		})
		out = j
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// CompleteJob closes an assigned job. What triggers completion lives
// outside this package; only the transition guard is enforced here.
func (e *Engine) CompleteJob(ctx context.Context, client domain.Principal, jobID string) (*domain.Job, error) {
	var out *domain.Job
	err := e.withJob(ctx, jobID, func(j *domain.Job) error {
		if err := requireOwner(client, j); err != nil {
			return err
		}
		if j.Status != domain.Assigned {
			return domain.Errorf(domain.KindInvalidState, "job %s is %s, only assigned jobs can be completed", j.ID, j.Status)
		}
		rev, err := e.store.SetStatus(ctx, j.ID, domain.Assigned, domain.Completed, j.Version)
		if err != nil {
			return e.storeErr(err, j.ID)
		}
		j.Status = domain.Completed
		j.Version = rev.Version
		j.UpdatedAt = rev.UpdatedAt
		e.log.Info("job completed", zap.String("job_id", j.ID), zap.Int64("version", rev.Version))
		out = j
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func requireOwner(p domain.Principal, j *domain.Job) error {
	if p.Role != domain.RoleClient || p.ID != j.ClientID {
		return domain.Errorf(domain.KindAuthorization, "only the client who posted job %s can do this", j.ID)
	}
	return nil
}

// withJob runs fn on a fresh read of the job while holding its lock.
func (e *Engine) withJob(ctx context.Context, jobID string, fn func(j *domain.Job) error) error {
	if jobID == "" {
		return domain.Errorf(domain.KindValidation, "job id is required")
	}

	lockCtx, cancel := context.WithTimeout(ctx, e.opts.LockTimeout)
	defer cancel()
	unlock, err := e.locks.Lock(lockCtx, jobID)
	if err != nil {
		if ctx.Err() != nil {
			return domain.Errorf(domain.KindBusy, "gave up waiting for job %s: %v", jobID, ctx.Err())
		}
		e.log.Warn("job lock timeout", zap.String("job_id", jobID), zap.Duration("timeout", e.opts.LockTimeout))
		return domain.Errorf(domain.KindBusy, "job %s is busy, try again", jobID)
	}
	defer unlock()

	j, err := e.store.Load(ctx, jobID)
	if err != nil {
		return e.storeErr(err, jobID)
	}
	return fn(j)
}

func (e *Engine) storeErr(err error, jobID string) error {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return domain.Errorf(domain.KindNotFound, "job %s not found", jobID)
	case errors.Is(err, storage.ErrConflict):
		return domain.Errorf(domain.KindConflict, "job %s was changed by another writer, try again", jobID)
	}
	e.log.Error("store failure", zap.String("job_id", jobID), zap.Error(err))
	return errors.Wrapf(err, "job %s", jobID)
}
