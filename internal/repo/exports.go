package repo

import (
	"context"
	"database/sql"
	"path/filepath"

	"geoforge/internal/domain"
)

const exportCols = `uuid,dataset,driver,status,file,output_path`

func scanExport(row interface{ Scan(...any) error }) (domain.Export, error) {
	var e domain.Export
	var file, outputPath sql.NullString
	err := row.Scan(&e.UUID, &e.Dataset, &e.Driver, &e.Status, &file, &outputPath)
	if err == sql.ErrNoRows {
		return e, ErrNotFound
	}
	if file.Valid {
		e.FilePath = &file.String
	}
	if outputPath.Valid {
		e.OutputPath = &outputPath.String
	}
	return e, err
}

func (r Repo) InsertExport(ctx context.Context, e domain.Export) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO exports(`+exportCols+`) VALUES (?,?,?,?,?,?)`,
		e.UUID, e.Dataset, e.Driver, e.Status, nullableStringPtr(e.FilePath), nullableStringPtr(e.OutputPath))
	return err
}

func (r Repo) GetExport(ctx context.Context, uuid string) (domain.Export, error) {
	return scanExport(r.DB.QueryRowContext(ctx, `SELECT `+exportCols+` FROM exports WHERE uuid=?`, uuid))
}

// ExportByDatasetDriver resolves the single export of a dataset for a driver.
func (r Repo) ExportByDatasetDriver(ctx context.Context, dataset, driver string) (domain.Export, error) {
	return scanExport(r.DB.QueryRowContext(ctx,
		`SELECT `+exportCols+` FROM exports WHERE dataset=? AND driver=?`, dataset, driver))
}

func (r Repo) UpdateExportTx(ctx context.Context, tx *sql.Tx, uuid, status string, file, outputPath *string) error {
	res, err := tx.ExecContext(ctx, `UPDATE exports SET status=?, file=?, output_path=? WHERE uuid=?`,
		status, nullableStringPtr(file), nullableStringPtr(outputPath), uuid)
	if err != nil {
		return err
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// ListSessionExports groups the exports of a session's live datasets by
// dataset label.
func (r Repo) ListSessionExports(ctx context.Context, session string) ([]domain.DatasetExports, error) {
	rows, err := r.DB.QueryContext(ctx, `
SELECT d.label, e.driver, e.status, e.file, e.output_path
FROM exports e JOIN datasets d ON d.uuid = e.dataset
WHERE d.session=? AND NOT d.deleted
ORDER BY d.label ASC, e.driver ASC`, session)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.DatasetExports
	for rows.Next() {
		var label string
		var info domain.ExportInfo
		var file, outputPath sql.NullString
		if err := rows.Scan(&label, &info.Driver, &info.Status, &file, &outputPath); err != nil {
			return nil, err
		}
		if file.Valid {
			link := "/datasets/download/" + filepath.Base(file.String)
			info.Link = &link
		}
		if outputPath.Valid {
			info.OutputPath = &outputPath.String
		}
		if len(res) == 0 || res[len(res)-1].Label != label {
			res = append(res, domain.DatasetExports{Label: label})
		}
		res[len(res)-1].Exports = append(res[len(res)-1].Exports, info)
	}
	return res, rows.Err()
}
