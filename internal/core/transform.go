package core

import (
	"context"
	"errors"
	"regexp"

	"github.com/google/uuid"

	"geoforge/internal/domain"
	"geoforge/internal/geometry"
	"geoforge/internal/repo"
)

var labelRe = regexp.MustCompile(`^[a-z0-9_]+$`)

// validateLabel enforces the naming rules for new datasets: lowercase
// alphanumerics and underscores, 3 to 255 characters, not used by a live
// dataset and not claimed by a pending ingest of the same session.
func (c *Core) validateLabel(ctx context.Context, session, label string) error {
	if len(label) < 3 || len(label) > 255 {
		return &LabelError{Label: label, Reason: "must be between 3 and 255 characters"}
	}
	if !labelRe.MatchString(label) {
		return &LabelError{Label: label, Reason: "only lowercase letters, digits and underscores are allowed"}
	}
	_, err := c.Repo.DatasetByLabel(ctx, session, label)
	if err == nil {
		return &ConflictError{Message: "label " + label + " already exists"}
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return err
	}
	pending, err := c.Repo.HasPendingIngest(ctx, session, label)
	if err != nil {
		return err
	}
	if pending {
		return &ConflictError{Message: "label " + label + " is under process"}
	}
	return nil
}

// resolveSource returns the source dataset for an operation: the named
// live dataset, or the session's active dataset when label is empty.
func (c *Core) resolveSource(ctx context.Context, s domain.Session, label string) (domain.Dataset, error) {
	if label == "" {
		if s.ActiveDataset == nil {
			return domain.Dataset{}, ErrNoActiveDataset
		}
		ds, err := c.Repo.GetDataset(ctx, *s.ActiveDataset)
		if errors.Is(err, repo.ErrNotFound) || (err == nil && ds.Deleted) {
			return domain.Dataset{}, ErrNoActiveDataset
		}
		return ds, err
	}
	ds, err := c.Repo.DatasetByLabel(ctx, s.UUID, label)
	if errors.Is(err, repo.ErrNotFound) {
		return domain.Dataset{}, ErrDatasetNotFound
	}
	return ds, err
}

// TransformParams describes one synchronous derivation step.
type TransformParams struct {
	// Action names the lineage edge, e.g. "constructive.centroid".
	Action string
	// Source is the source dataset label; empty selects the active dataset.
	Source string
	// Label names the derived dataset.
	Label string
	// Op is the operation the engine materializes. Join operations carry
	// the right dataset's label in Right; CRS fields left at zero are
	// resolved from the datasets involved.
	Op geometry.Operation
}

// Transform derives a new dataset from an existing one. The derived dataset
// inherits the source metadata, the lineage edge is recorded and the new
// dataset becomes the session's active dataset, all before returning.
func (c *Core) Transform(ctx context.Context, token string, p TransformParams) (domain.DatasetInfo, error) {
	s, err := c.Resolve(ctx, token)
	if err != nil {
		return domain.DatasetInfo{}, err
	}
	if err := c.Touch(ctx, s.UUID); err != nil {
		return domain.DatasetInfo{}, err
	}
	src, err := c.resolveSource(ctx, s, p.Source)
	if err != nil {
		return domain.DatasetInfo{}, err
	}
	if err := c.validateLabel(ctx, s.UUID, p.Label); err != nil {
		return domain.DatasetInfo{}, err
	}

	op, err := c.resolveOperation(ctx, s, src, p.Op)
	if err != nil {
		return domain.DatasetInfo{}, err
	}
	ref, err := c.Geo.MaterializeView(ctx, s.SchemaName, p.Label, src.TableRef, op)
	if err != nil {
		return domain.DatasetInfo{}, err
	}

	tx, err := c.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.DatasetInfo{}, err
	}
	defer tx.Rollback()
	ds := domain.Dataset{
		UUID:     uuid.NewString(),
		Session:  s.UUID,
		Label:    p.Label,
		TableRef: ref,
		Created:  c.now(),
		Meta:     src.Meta,
	}
	if err := c.Repo.InsertDatasetTx(ctx, tx, ds); err != nil {
		if repo.IsUniqueViolation(err, "label") {
			return domain.DatasetInfo{}, &ConflictError{Message: "label " + p.Label + " already exists"}
		}
		return domain.DatasetInfo{}, err
	}
	if err := c.Repo.InsertActionTx(ctx, tx, domain.Action{
		Session:       s.UUID,
		Action:        p.Action,
		SourceDataset: src.UUID,
		ResultDataset: ds.UUID,
		Performed:     c.now(),
	}); err != nil {
		return domain.DatasetInfo{}, err
	}
	if err := c.Repo.SetActiveDatasetTx(ctx, tx, s.UUID, &ds.UUID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return domain.DatasetInfo{}, ErrSessionNotFound
		}
		return domain.DatasetInfo{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.DatasetInfo{}, err
	}
	c.Log.Info("dataset derived", "session", s.UUID, "action", p.Action, "source", src.Label, "label", p.Label)
	return c.Repo.DatasetInfo(ctx, s.UUID, p.Label)
}

// resolveOperation fills in the CRS and dataset references an operation
// needs before the engine can materialize it.
func (c *Core) resolveOperation(ctx context.Context, s domain.Session, src domain.Dataset, op geometry.Operation) (geometry.Operation, error) {
	switch o := op.(type) {
	case geometry.SpatialFilter:
		if o.SRID == 0 {
			o.SRID = src.Meta.EPSG
		}
		return o, nil
	case geometry.BufferFilter:
		if o.SRID == 0 {
			o.SRID = src.Meta.EPSG
		}
		o.TargetSRID = src.Meta.EPSG
		return o, nil
	case geometry.SpatialJoin:
		right, err := c.Repo.DatasetByLabel(ctx, s.UUID, o.Right)
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrDatasetNotFound
		}
		if err != nil {
			return nil, err
		}
		o.Right = right.TableRef
		o.LeftSRID = src.Meta.EPSG
		o.RightSRID = right.Meta.EPSG
		return o, nil
	default:
		return op, nil
	}
}
