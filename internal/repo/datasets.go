package repo

import (
	"context"
	"database/sql"
	"encoding/json"

	"geoforge/internal/domain"
)

const datasetCols = `uuid,session,label,table_name,source_file,created,deleted,epsg,driver,feature_count,bbox`

func bboxJSON(bbox []float64) any {
	if len(bbox) == 0 {
		return nil
	}
	data, err := json.Marshal(bbox)
	if err != nil {
		return nil
	}
	return string(data)
}

func scanDataset(row interface{ Scan(...any) error }) (domain.Dataset, error) {
	var d domain.Dataset
	var source, bbox sql.NullString
	err := row.Scan(&d.UUID, &d.Session, &d.Label, &d.TableRef, &source, &d.Created, &d.Deleted,
		&d.Meta.EPSG, &d.Meta.Driver, &d.Meta.FeatureCount, &bbox)
	if err == sql.ErrNoRows {
		return d, ErrNotFound
	}
	if source.Valid {
		d.SourceFile = &source.String
	}
	if bbox.Valid {
		_ = json.Unmarshal([]byte(bbox.String), &d.Meta.BBox)
	}
	return d, err
}

func (r Repo) InsertDatasetTx(ctx context.Context, tx *sql.Tx, d domain.Dataset) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO datasets(`+datasetCols+`) VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		d.UUID, d.Session, d.Label, d.TableRef, nullableStringPtr(d.SourceFile), d.Created, d.Deleted,
		d.Meta.EPSG, d.Meta.Driver, d.Meta.FeatureCount, bboxJSON(d.Meta.BBox))
	return err
}

func (r Repo) GetDataset(ctx context.Context, uuid string) (domain.Dataset, error) {
	return scanDataset(r.DB.QueryRowContext(ctx, `SELECT `+datasetCols+` FROM datasets WHERE uuid=?`, uuid))
}

// DatasetByLabel resolves a live dataset of a session.
func (r Repo) DatasetByLabel(ctx context.Context, session, label string) (domain.Dataset, error) {
	return scanDataset(r.DB.QueryRowContext(ctx,
		`SELECT `+datasetCols+` FROM datasets WHERE session=? AND label=? AND NOT deleted`, session, label))
}

func (r Repo) CountLiveDatasets(ctx context.Context, session string) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT count(*) FROM datasets WHERE session=? AND NOT deleted`, session).Scan(&n)
	return n, err
}

func (r Repo) SoftDeleteSessionDatasetsTx(ctx context.Context, tx *sql.Tx, session string) error {
	_, err := tx.ExecContext(ctx, `UPDATE datasets SET deleted=1 WHERE session=? AND NOT deleted`, session)
	return err
}

func (r Repo) InsertActionTx(ctx context.Context, tx *sql.Tx, a domain.Action) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO actions(session,action,src_ds,result_ds,performed) VALUES (?,?,?,?,?)`,
		a.Session, a.Action, a.SourceDataset, a.ResultDataset, a.Performed)
	return err
}

const datasetInfoQuery = `
SELECT d.label, d.created, d.bbox, d.epsg, d.feature_count, d.driver, src.label, a.action
FROM datasets d
LEFT JOIN actions a ON a.result_ds = d.uuid
LEFT JOIN datasets src ON src.uuid = a.src_ds
WHERE d.session=? AND NOT d.deleted`

func scanDatasetInfo(row interface{ Scan(...any) error }) (domain.DatasetInfo, error) {
	var info domain.DatasetInfo
	var bbox, source, action sql.NullString
	err := row.Scan(&info.Label, &info.Created, &bbox, &info.EPSG, &info.FeatureCount, &info.Driver, &source, &action)
	if err == sql.ErrNoRows {
		return info, ErrNotFound
	}
	if bbox.Valid {
		_ = json.Unmarshal([]byte(bbox.String), &info.BBox)
	}
	if source.Valid {
		info.Source = &source.String
	}
	if action.Valid {
		info.Action = &action.String
	}
	return info, err
}

// DatasetInfo returns one live dataset with its originating action.
func (r Repo) DatasetInfo(ctx context.Context, session, label string) (domain.DatasetInfo, error) {
	return scanDatasetInfo(r.DB.QueryRowContext(ctx, datasetInfoQuery+` AND d.label=?`, session, label))
}

// ListDatasetInfo returns all live datasets of a session with their
// originating actions, oldest first.
func (r Repo) ListDatasetInfo(ctx context.Context, session string) ([]domain.DatasetInfo, error) {
	rows, err := r.DB.QueryContext(ctx, datasetInfoQuery+` ORDER BY d.created ASC`, session)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.DatasetInfo
	for rows.Next() {
		info, err := scanDatasetInfo(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, info)
	}
	return res, rows.Err()
}
