package repo

import (
	"context"
	"database/sql"

	"geoforge/internal/domain"
)

const jobCols = `uuid,session,ticket,idempotency_key,request,label,params,initiated,execution_time,completed,success,error_msg,dataset,export`

func scanJob(row interface{ Scan(...any) error }) (domain.Job, error) {
	var j domain.Job
	var key, params, errMsg, dataset, export sql.NullString
	var execTime sql.NullFloat64
	var success sql.NullBool
	err := row.Scan(&j.UUID, &j.Session, &j.Ticket, &key, &j.Request, &j.Label, &params, &j.Initiated,
		&execTime, &j.Completed, &success, &errMsg, &dataset, &export)
	if err == sql.ErrNoRows {
		return j, ErrNotFound
	}
	if key.Valid {
		j.IdempotencyKey = &key.String
	}
	if params.Valid {
		j.Params = params.String
	}
	if execTime.Valid {
		j.ExecutionTime = &execTime.Float64
	}
	if success.Valid {
		j.Success = &success.Bool
	}
	if errMsg.Valid {
		j.ErrorMessage = &errMsg.String
	}
	if dataset.Valid {
		j.Dataset = &dataset.String
	}
	if export.Valid {
		j.Export = &export.String
	}
	return j, err
}

func (r Repo) InsertJob(ctx context.Context, j domain.Job) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO queue(`+jobCols+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		j.UUID, j.Session, j.Ticket, nullableStringPtr(j.IdempotencyKey), j.Request, j.Label, nullable(j.Params), j.Initiated,
		nullableFloatPtr(j.ExecutionTime), j.Completed, nullableBoolPtr(j.Success),
		nullableStringPtr(j.ErrorMessage), nullableStringPtr(j.Dataset), nullableStringPtr(j.Export))
	return err
}

func (r Repo) GetJob(ctx context.Context, uuid string) (domain.Job, error) {
	return scanJob(r.DB.QueryRowContext(ctx, `SELECT `+jobCols+` FROM queue WHERE uuid=?`, uuid))
}

func (r Repo) JobByTicket(ctx context.Context, ticket string) (domain.Job, error) {
	return scanJob(r.DB.QueryRowContext(ctx, `SELECT `+jobCols+` FROM queue WHERE ticket=?`, ticket))
}

func (r Repo) JobByIdempotencyKey(ctx context.Context, key string) (domain.Job, error) {
	return scanJob(r.DB.QueryRowContext(ctx, `SELECT `+jobCols+` FROM queue WHERE idempotency_key=?`, key))
}

// PendingJobs lists non-completed jobs oldest first, for requeueing on
// startup and for the executor backlog.
func (r Repo) PendingJobs(ctx context.Context) ([]domain.Job, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+jobCols+` FROM queue WHERE NOT completed ORDER BY initiated ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, j)
	}
	return res, rows.Err()
}

// HasPendingIngest reports whether an incomplete ingest job of the session
// already claims the label.
func (r Repo) HasPendingIngest(ctx context.Context, session, label string) (bool, error) {
	var one int
	err := r.DB.QueryRowContext(ctx,
		`SELECT 1 FROM queue WHERE session=? AND label=? AND request=? AND NOT completed LIMIT 1`,
		session, label, domain.RequestIngest).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// ActiveJobs lists non-completed jobs across all sessions with their
// session context.
func (r Repo) ActiveJobs(ctx context.Context) ([]domain.ActiveJob, error) {
	rows, err := r.DB.QueryContext(ctx, `
SELECT s.token, s.last_request, q.ticket, q.idempotency_key, q.request, q.initiated
FROM queue q JOIN sessions s ON s.uuid = q.session
WHERE NOT q.completed ORDER BY q.initiated ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.ActiveJob
	for rows.Next() {
		var j domain.ActiveJob
		var key sql.NullString
		if err := rows.Scan(&j.SessionToken, &j.SessionLastRequest, &j.Ticket, &key, &j.RequestType, &j.Initiated); err != nil {
			return nil, err
		}
		if key.Valid {
			j.IdempotencyKey = &key.String
		}
		res = append(res, j)
	}
	return res, rows.Err()
}

// JobCompletion is the terminal update applied exactly once per job.
type JobCompletion struct {
	UUID          string
	Success       bool
	ExecutionTime float64
	ErrorMessage  *string
	Dataset       *string
	Export        *string
}

func (r Repo) CompleteJobTx(ctx context.Context, tx *sql.Tx, c JobCompletion) error {
	res, err := tx.ExecContext(ctx, `
UPDATE queue SET completed=1, success=?, execution_time=?, error_msg=?, dataset=COALESCE(?, dataset), export=COALESCE(?, export)
WHERE uuid=? AND NOT completed`,
		c.Success, c.ExecutionTime, nullableStringPtr(c.ErrorMessage),
		nullableStringPtr(c.Dataset), nullableStringPtr(c.Export), c.UUID)
	if err != nil {
		return err
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}
