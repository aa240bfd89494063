package repo

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"geoforge/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

// IsUniqueViolation reports whether err is a unique constraint failure on
// the given column or index. The driver only exposes the message text.
func IsUniqueViolation(err error, hint string) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") && strings.Contains(msg, hint)
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullableFloatPtr(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullableBoolPtr(v *bool) any {
	if v == nil {
		return nil
	}
	return *v
}

const sessionCols = `uuid,token,created,last_request,active,active_dataset,schema_name,working_path`

func scanSession(row interface{ Scan(...any) error }) (domain.Session, error) {
	var s domain.Session
	var activeDS sql.NullString
	err := row.Scan(&s.UUID, &s.Token, &s.Created, &s.LastRequest, &s.Active, &activeDS, &s.SchemaName, &s.WorkingPath)
	if err == sql.ErrNoRows {
		return s, ErrNotFound
	}
	if activeDS.Valid {
		s.ActiveDataset = &activeDS.String
	}
	return s, err
}

func (r Repo) InsertSession(ctx context.Context, s domain.Session) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO sessions(`+sessionCols+`) VALUES (?,?,?,?,?,?,?,?)`,
		s.UUID, s.Token, s.Created, s.LastRequest, s.Active, nullableStringPtr(s.ActiveDataset), s.SchemaName, s.WorkingPath)
	return err
}

func (r Repo) GetSession(ctx context.Context, uuid string) (domain.Session, error) {
	return scanSession(r.DB.QueryRowContext(ctx, `SELECT `+sessionCols+` FROM sessions WHERE uuid=?`, uuid))
}

// ActiveSessionByToken resolves the single live session of a token.
func (r Repo) ActiveSessionByToken(ctx context.Context, token string) (domain.Session, error) {
	return scanSession(r.DB.QueryRowContext(ctx, `SELECT `+sessionCols+` FROM sessions WHERE token=? AND active`, token))
}

func (r Repo) TouchSession(ctx context.Context, uuid, ts string) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE sessions SET last_request=? WHERE uuid=? AND active`, ts, uuid)
	if err != nil {
		return err
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) SetActiveDatasetTx(ctx context.Context, tx *sql.Tx, session string, dataset *string) error {
	res, err := tx.ExecContext(ctx, `UPDATE sessions SET active_dataset=? WHERE uuid=? AND active`,
		nullableStringPtr(dataset), session)
	if err != nil {
		return err
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) DeactivateSessionTx(ctx context.Context, tx *sql.Tx, uuid string) error {
	res, err := tx.ExecContext(ctx, `UPDATE sessions SET active=0, active_dataset=NULL WHERE uuid=? AND active`, uuid)
	if err != nil {
		return err
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// IdleSessions lists active sessions whose last request predates cutoff.
func (r Repo) IdleSessions(ctx context.Context, cutoff string) ([]domain.Session, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+sessionCols+` FROM sessions WHERE active AND last_request < ?`, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}
