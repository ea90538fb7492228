package storage

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"

	"github.com/SirClappington/jobbid/internal/domain"
)

// Postgres keeps jobs in a PostGIS-enabled database. Bids live in their
// own table keyed by (job_id, position), so appending a bid is one insert
// plus a version bump on the job row rather than a rewrite of the whole
// job.
type Postgres struct{ db *pgxpool.Pool }

func NewPostgres(db *pgxpool.Pool) *Postgres { return &Postgres{db} }

// Create persists job metadata (source of truth)
func (s *Postgres) Create(ctx context.Context, job *domain.Job) error {
	err := s.db.QueryRow(ctx, `insert into jobs(
id, client_id, title, description, status, location, suggested_price
) values ($1,$2,$3,$4,$5, ST_SetSRID(ST_MakePoint($6,$7),4326)::geography, $8)
returning seq, version, created_at, updated_at`,
		job.ID, job.ClientID, job.Title, job.Description, job.Status,
		job.Location.Lng, job.Location.Lat, job.SuggestedPrice,
	).Scan(&job.Seq, &job.Version, &job.CreatedAt, &job.UpdatedAt)
	if err != nil {
		return errors.Wrap(err, "insert job")
	}
	if job.Bids == nil {
		job.Bids = []domain.Bid{}
	}
	return nil
}

const jobColumns = `id, seq, client_id, title, description, status,
ST_X(location::geometry), ST_Y(location::geometry), suggested_price,
version, created_at, updated_at`

func scanJob(row pgx.Row, extra ...any) (*domain.Job, error) {
	var j domain.Job
	dest := []any{
		&j.ID, &j.Seq, &j.ClientID, &j.Title, &j.Description, &j.Status,
		&j.Location.Lng, &j.Location.Lat, &j.SuggestedPrice,
		&j.Version, &j.CreatedAt, &j.UpdatedAt,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}
	j.Bids = []domain.Bid{}
	return &j, nil
}

func (s *Postgres) Load(ctx context.Context, id string) (*domain.Job, error) {
	j, err := scanJob(s.db.QueryRow(ctx, `select `+jobColumns+` from jobs where id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrapf(err, "load job %s", id)
	}
	if err := s.loadBids(ctx, map[string]*domain.Job{j.ID: j}); err != nil {
		return nil, err
	}
	return j, nil
}

func (s *Postgres) loadBids(ctx context.Context, jobs map[string]*domain.Job) error {
	if len(jobs) == 0 {
		return nil
	}
	ids := make([]string, 0, len(jobs))
	for id := range jobs {
		ids = append(ids, id)
	}
	rows, err := s.db.Query(ctx, `
select job_id, id, artisan_id, amount, accepted, created_at
  from bids
 where job_id = any($1)
 order by job_id, position`, ids)
	if err != nil {
		return errors.Wrap(err, "load bids")
	}
	defer rows.Close()
	for rows.Next() {
		var jobID string
		var b domain.Bid
		if err := rows.Scan(&jobID, &b.ID, &b.ArtisanID, &b.Amount, &b.Accepted, &b.CreatedAt); err != nil {
			return errors.Wrap(err, "scan bid")
		}
		j := jobs[jobID]
		j.Bids = append(j.Bids, b)
	}
	return errors.Wrap(rows.Err(), "iterate bids")
}

// bump advances the job's version when it still matches expectedVersion
// and the job is in status from. It returns ErrConflict or ErrNotFound
// when no row qualifies.
func bump(ctx context.Context, tx pgx.Tx, jobID string, expectedVersion int64, from domain.Status, set string) (Revision, int, error) {
	var rev Revision
	var bidCount int
	err := tx.QueryRow(ctx, `
update jobs
   set version = version + 1,
       updated_at = now()`+set+`
 where id = $1
   and version = $2
   and status = $3
returning version, updated_at, bid_count`, jobID, expectedVersion, from).Scan(&rev.Version, &rev.UpdatedAt, &bidCount)
	if errors.Is(err, pgx.ErrNoRows) {
		var exists bool
		if err := tx.QueryRow(ctx, `select exists(select 1 from jobs where id = $1)`, jobID).Scan(&exists); err != nil {
			return Revision{}, 0, errors.Wrap(err, "check job")
		}
		if !exists {
			return Revision{}, 0, ErrNotFound
		}
		return Revision{}, 0, ErrConflict
	}
	if err != nil {
		return Revision{}, 0, errors.Wrapf(err, "update job %s", jobID)
	}
	return rev, bidCount, nil
}

func (s *Postgres) inTx(ctx context.Context, fn func(tx pgx.Tx) (Revision, error)) (Revision, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return Revision{}, errors.Wrap(err, "begin")
	}
	defer tx.Rollback(ctx)

	rev, err := fn(tx)
	if err != nil {
		return Revision{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return Revision{}, errors.Wrap(err, "commit")
	}
	return rev, nil
}

func (s *Postgres) AppendBid(ctx context.Context, jobID string, bid domain.Bid, expectedVersion int64) (Revision, error) {
	return s.inTx(ctx, func(tx pgx.Tx) (Revision, error) {
		rev, count, err := bump(ctx, tx, jobID, expectedVersion, domain.Open, ",\n       bid_count = bid_count + 1")
		if err != nil {
			return Revision{}, err
		}
		_, err = tx.Exec(ctx, `
insert into bids(job_id, id, position, artisan_id, amount, accepted, created_at)
values ($1,$2,$3,$4,$5,false,$6)`,
			jobID, bid.ID, count-1, bid.ArtisanID, bid.Amount, bid.CreatedAt)
		if err != nil {
			return Revision{}, errors.Wrap(err, "insert bid")
		}
		return rev, nil
	})
}

func (s *Postgres) AcceptBid(ctx context.Context, jobID, bidID string, expectedVersion int64) (Revision, error) {
	return s.inTx(ctx, func(tx pgx.Tx) (Revision, error) {
		rev, _, err := bump(ctx, tx, jobID, expectedVersion, domain.Open, ",\n       status = 'assigned'")
		if err != nil {
			return Revision{}, err
		}
		tag, err := tx.Exec(ctx, `
update bids set accepted = true
 where job_id = $1 and id = $2 and not accepted`, jobID, bidID)
		if err != nil {
			return Revision{}, errors.Wrap(err, "accept bid")
		}
		if tag.RowsAffected() != 1 {
			return Revision{}, ErrConflict
		}
		return rev, nil
	})
}

func (s *Postgres) SetStatus(ctx context.Context, jobID string, from, to domain.Status, expectedVersion int64) (Revision, error) {
	if !to.Valid() {
		return Revision{}, errors.Errorf("invalid status %q", to)
	}
	return s.inTx(ctx, func(tx pgx.Tx) (Revision, error) {
		rev, _, err := bump(ctx, tx, jobID, expectedVersion, from, ",\n       status = '"+string(to)+"'")
		return rev, err
	})
}

func (s *Postgres) QueryNear(ctx context.Context, q NearQuery) ([]Nearby, error) {
	// limit null means no limit.
	var limit *int
	if q.Limit > 0 {
		limit = &q.Limit
	}
	rows, err := s.db.Query(ctx, `
with center as (select ST_SetSRID(ST_MakePoint($1,$2),4326)::geography as g)
select `+jobColumns+`, ST_Distance(jobs.location, center.g)
  from jobs, center
 where ST_DWithin(jobs.location, center.g, $3)
   and ($4 = '' or jobs.status = $4)
 order by 13, seq
 limit $5`, q.Center.Lng, q.Center.Lat, q.MaxDistance, string(q.Status), limit)
	if err != nil {
		return nil, errors.Wrap(err, "query near")
	}
	defer rows.Close()

	var out []Nearby
	byID := make(map[string]*domain.Job)
	for rows.Next() {
		var d float64
		j, err := scanJob(rows, &d)
		if err != nil {
			return nil, errors.Wrap(err, "scan job")
		}
		out = append(out, Nearby{Job: j, Distance: d})
		byID[j.ID] = j
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate jobs")
	}
	rows.Close()

	if err := s.loadBids(ctx, byID); err != nil {
		return nil, err
	}
	return out, nil
}
