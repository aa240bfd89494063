// Package geometry defines the contract with the spatial engine. The core
// never computes geometry itself; every file, table and CRS concern crosses
// this boundary.
package geometry

import (
	"context"
	"errors"
	"fmt"
)

// ErrCRSNotFound reports that no coordinate reference system could be
// determined for an ingested file and none was supplied.
var ErrCRSNotFound = errors.New("CRS info cannot be retrieved")

// EngineError wraps any failure raised inside an engine implementation.
type EngineError struct {
	Op  string
	Err error
}

func (e *EngineError) Error() string { return fmt.Sprintf("engine %s: %v", e.Op, e.Err) }
func (e *EngineError) Unwrap() error { return e.Err }

func engineErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &EngineError{Op: op, Err: err}
}

// IngestOptions carries the reader hints for a source file. Lat/Lon and
// GeomColumn only apply to delimited files.
type IngestOptions struct {
	File       string
	CRS        string
	Encoding   string
	Delimiter  string
	Lat        string
	Lon        string
	GeomColumn string
}

// IngestResult describes the dataset the engine created.
type IngestResult struct {
	Ref          string
	Driver       string
	EPSG         int
	FeatureCount int
	BBox         []float64
}

// ExportOptions carries the writer hints for an export.
type ExportOptions struct {
	Filename  string
	Encoding  string
	Delimiter string
}

type PageInfo struct {
	Dataset        string `json:"dataset"`
	Page           int    `json:"page"`
	ResultsPerPage int    `json:"resultsPerPage"`
	HasMore        bool   `json:"hasMore"`
}

// RowPage is one page of a dataset in tabular form. Geometry is rendered
// as WKT under the geom key.
type RowPage struct {
	Info PageInfo         `json:"info"`
	Data []map[string]any `json:"data"`
}

// FeaturePage is one page of a dataset as a GeoJSON FeatureCollection,
// reprojected to EPSG:4326.
type FeaturePage struct {
	Info PageInfo       `json:"info"`
	Data map[string]any `json:"data"`
}

// Engine is the external spatial collaborator. A namespace isolates one
// session's datasets; refs returned by Ingest and MaterializeView are opaque
// to callers and only meaningful inside the same namespace.
type Engine interface {
	// Check verifies the engine is reachable.
	Check(ctx context.Context) error

	// CreateNamespace provisions an isolated namespace and returns its name.
	CreateNamespace(ctx context.Context) (string, error)

	// DropNamespace destroys a namespace and everything in it. Dropping a
	// namespace that no longer exists is not an error.
	DropNamespace(ctx context.Context, ns string) error

	// Ingest loads a source file into a new dataset in the namespace.
	// A missing CRS that cannot be recovered from the file fails with a
	// wrapped ErrCRSNotFound.
	Ingest(ctx context.Context, ns, name string, opts IngestOptions) (*IngestResult, error)

	// MaterializeView derives a new dataset from source by applying op,
	// without copying rows. Returns the ref of the derived dataset.
	MaterializeView(ctx context.Context, ns, name, source string, op Operation) (string, error)

	// Rows returns one page of the dataset in tabular form.
	Rows(ctx context.Context, ns, ref string, page, perPage int) (*RowPage, error)

	// GeoJSON returns one page of the dataset as GeoJSON.
	GeoJSON(ctx context.Context, ns, ref string, page, perPage int) (*FeaturePage, error)

	// ExportToFile writes the dataset under dir with the given driver and
	// returns the full path of the compressed result.
	ExportToFile(ctx context.Context, ns, ref, dir, driver string, opts ExportOptions) (string, error)
}

// Predicate is a binary spatial relation used by filters and joins.
type Predicate string

const (
	Contains         Predicate = "contains"
	ContainsProperly Predicate = "contains_properly"
	Covers           Predicate = "covers"
	CoveredBy        Predicate = "covered_by"
	Crosses          Predicate = "crosses"
	Disjoint         Predicate = "disjoint"
	Intersects       Predicate = "intersects"
	Within           Predicate = "within"
	WithinDistance   Predicate = "within_distance"
)

// Operation is a closed set of dataset transformations. Engines dispatch on
// the concrete type; there is no generic expression form.
type Operation interface {
	isOperation()
}

// Centroid replaces each geometry with its centroid point.
type Centroid struct{}

// ConvexHull replaces each geometry with its convex hull.
type ConvexHull struct{}

// FlipCoordinates swaps the X and Y axes of each geometry.
type FlipCoordinates struct{}

// MakeValid repairs invalid geometries without dropping rows.
type MakeValid struct{}

// SpatialFilter keeps the rows whose geometry relates to the given WKT
// geometry. SRID qualifies the WKT; when zero the dataset's own CRS applies.
type SpatialFilter struct {
	Predicate Predicate
	WKT       string
	SRID      int
}

// BufferFilter keeps the rows whose geometry lies within Radius of the
// point (X, Y). SRID qualifies the point and TargetSRID is the dataset's
// CRS; the point is reprojected when they differ.
type BufferFilter struct {
	X, Y       float64
	Radius     float64
	SRID       int
	TargetSRID int
}

// SpatialJoin joins the source dataset with Right on a spatial relation.
// Outer produces a left join. Distance applies to WithinDistance only.
// The right geometry is reprojected to LeftSRID when RightSRID differs.
type SpatialJoin struct {
	Predicate Predicate
	Right     string
	Outer     bool
	Distance  float64
	LeftSRID  int
	RightSRID int
}

func (Centroid) isOperation()        {}
func (ConvexHull) isOperation()      {}
func (FlipCoordinates) isOperation() {}
func (MakeValid) isOperation()       {}
func (SpatialFilter) isOperation()   {}
func (BufferFilter) isOperation()    {}
func (SpatialJoin) isOperation()     {}
