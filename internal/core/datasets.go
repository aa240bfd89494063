package core

import (
	"context"
	"os"
	"path/filepath"

	"geoforge/internal/domain"
	"geoforge/internal/geometry"
)

const defaultResultsPerPage = 10

func (c *Core) clampPerPage(perPage int) int {
	if perPage <= 0 {
		return defaultResultsPerPage
	}
	if max := c.Config.Results.MaxPerPage; perPage > max {
		return max
	}
	return perPage
}

// Datasets lists the live datasets of the token's session with their
// lineage, oldest first.
func (c *Core) Datasets(ctx context.Context, token string) ([]domain.DatasetInfo, error) {
	s, err := c.Resolve(ctx, token)
	if err != nil {
		return nil, err
	}
	if err := c.Touch(ctx, s.UUID); err != nil {
		return nil, err
	}
	return c.Repo.ListDatasetInfo(ctx, s.UUID)
}

// DatasetRows returns one page of a dataset in tabular form. An empty label
// selects the active dataset.
func (c *Core) DatasetRows(ctx context.Context, token, label string, page, perPage int) (*geometry.RowPage, error) {
	s, err := c.Resolve(ctx, token)
	if err != nil {
		return nil, err
	}
	if err := c.Touch(ctx, s.UUID); err != nil {
		return nil, err
	}
	ds, err := c.resolveSource(ctx, s, label)
	if err != nil {
		return nil, err
	}
	if page < 1 {
		page = 1
	}
	return c.Geo.Rows(ctx, s.SchemaName, ds.TableRef, page, c.clampPerPage(perPage))
}

// DatasetGeoJSON returns one page of a dataset as GeoJSON.
func (c *Core) DatasetGeoJSON(ctx context.Context, token, label string, page, perPage int) (*geometry.FeaturePage, error) {
	s, err := c.Resolve(ctx, token)
	if err != nil {
		return nil, err
	}
	if err := c.Touch(ctx, s.UUID); err != nil {
		return nil, err
	}
	ds, err := c.resolveSource(ctx, s, label)
	if err != nil {
		return nil, err
	}
	if page < 1 {
		page = 1
	}
	return c.Geo.GeoJSON(ctx, s.SchemaName, ds.TableRef, page, c.clampPerPage(perPage))
}

// Exports lists the exports of the session's live datasets grouped by
// label.
func (c *Core) Exports(ctx context.Context, token string) ([]domain.DatasetExports, error) {
	s, err := c.Resolve(ctx, token)
	if err != nil {
		return nil, err
	}
	if err := c.Touch(ctx, s.UUID); err != nil {
		return nil, err
	}
	return c.Repo.ListSessionExports(ctx, s.UUID)
}

// DownloadPath resolves an exported artifact inside the session's working
// directory. Only bare filenames are accepted.
func (c *Core) DownloadPath(ctx context.Context, token, filename string) (string, error) {
	s, err := c.Resolve(ctx, token)
	if err != nil {
		return "", err
	}
	if err := c.Touch(ctx, s.UUID); err != nil {
		return "", err
	}
	if filename == "" || filename != filepath.Base(filename) {
		return "", ErrDatasetNotFound
	}
	path := filepath.Join(s.WorkingPath, filename)
	if _, err := os.Stat(path); err != nil {
		return "", ErrDatasetNotFound
	}
	return path, nil
}
