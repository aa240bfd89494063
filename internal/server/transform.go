package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"geoforge/internal/core"
	"geoforge/internal/domain"
	"geoforge/internal/geometry"
)

var transformErrors = []int{
	http.StatusBadRequest,
	http.StatusUnauthorized,
	http.StatusNotFound,
	http.StatusConflict,
	http.StatusBadGateway,
}

func (s *server) transform(ctx context.Context, p core.TransformParams) (*struct {
	Body domain.DatasetInfo `json:"body"`
}, error) {
	token, authErr := s.token(ctx)
	if authErr != nil {
		return nil, authErr
	}
	info, err := s.core.Transform(ctx, token, p)
	if err != nil {
		return nil, handleError(err)
	}
	return &struct {
		Body domain.DatasetInfo `json:"body"`
	}{Body: info}, nil
}

func registerConstructive(api huma.API, s *server) {
	ops := []struct {
		name    string
		summary string
		op      geometry.Operation
	}{
		{"centroid", "Replace each geometry with its centroid", geometry.Centroid{}},
		{"convex_hull", "Replace each geometry with its convex hull", geometry.ConvexHull{}},
		{"flip_geometries", "Swap the coordinate axes of each geometry", geometry.FlipCoordinates{}},
		{"make_valid", "Repair invalid geometries", geometry.MakeValid{}},
	}
	for _, o := range ops {
		o := o
		huma.Register(api, huma.Operation{
			OperationID: "constructive-" + o.name,
			Method:      http.MethodPost,
			Path:        "/constructive/" + o.name,
			Summary:     o.summary,
			Tags:        []string{"Constructive"},
			Errors:      transformErrors,
		}, func(ctx context.Context, input *struct {
			Body TransformRequest `json:"body"`
		}) (*struct {
			Body domain.DatasetInfo `json:"body"`
		}, error) {
			return s.transform(ctx, core.TransformParams{
				Action: "constructive." + o.name,
				Source: input.Body.Src,
				Label:  input.Body.Label,
				Op:     o.op,
			})
		})
	}
}

// srid parses an optional CRS override; zero means "use the dataset's CRS".
func srid(crs string) (int, huma.StatusError) {
	if crs == "" {
		return 0, nil
	}
	epsg, err := geometry.EPSGFromCRS(crs)
	if err != nil {
		return 0, newAPIError(http.StatusBadRequest, "bad_request", err.Error(), nil)
	}
	return epsg, nil
}

func registerFilter(api huma.API, s *server) {
	predicates := []struct {
		name      string
		summary   string
		predicate geometry.Predicate
	}{
		{"contains", "Keep features whose geometry contains the given geometry", geometry.Contains},
		{"contains_properly", "Keep features whose geometry properly contains the given geometry", geometry.ContainsProperly},
		{"covers", "Keep features whose geometry covers the given geometry", geometry.Covers},
		{"covered_by", "Keep features whose geometry is covered by the given geometry", geometry.CoveredBy},
		{"crosses", "Keep features whose geometry crosses the given geometry", geometry.Crosses},
		{"disjoint", "Keep features whose geometry is disjoint from the given geometry", geometry.Disjoint},
		{"intersects", "Keep features whose geometry intersects the given geometry", geometry.Intersects},
		{"within", "Keep features whose geometry lies within the given geometry", geometry.Within},
	}
	for _, p := range predicates {
		p := p
		huma.Register(api, huma.Operation{
			OperationID: "filter-" + p.name,
			Method:      http.MethodPost,
			Path:        "/filter/" + p.name,
			Summary:     p.summary,
			Tags:        []string{"Filter"},
			Errors:      transformErrors,
		}, func(ctx context.Context, input *struct {
			Body FilterRequest `json:"body"`
		}) (*struct {
			Body domain.DatasetInfo `json:"body"`
		}, error) {
			if input.Body.WKT == "" {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "wkt is required", nil)
			}
			epsg, serr := srid(input.Body.CRS)
			if serr != nil {
				return nil, serr
			}
			return s.transform(ctx, core.TransformParams{
				Action: "filter." + p.name,
				Source: input.Body.Src,
				Label:  input.Body.Label,
				Op: geometry.SpatialFilter{
					Predicate: p.predicate,
					WKT:       input.Body.WKT,
					SRID:      epsg,
				},
			})
		})
	}

	huma.Register(api, huma.Operation{
		OperationID: "filter-within_buffer",
		Method:      http.MethodPost,
		Path:        "/filter/within_buffer",
		Summary:     "Keep features within a radius of a point",
		Tags:        []string{"Filter"},
		Errors:      transformErrors,
	}, func(ctx context.Context, input *struct {
		Body BufferFilterRequest `json:"body"`
	}) (*struct {
		Body domain.DatasetInfo `json:"body"`
	}, error) {
		if input.Body.Radius <= 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "radius must be positive", nil)
		}
		epsg, serr := srid(input.Body.CRS)
		if serr != nil {
			return nil, serr
		}
		return s.transform(ctx, core.TransformParams{
			Action: "filter.within_buffer",
			Source: input.Body.Src,
			Label:  input.Body.Label,
			Op: geometry.BufferFilter{
				X:      input.Body.Lon,
				Y:      input.Body.Lat,
				Radius: input.Body.Radius,
				SRID:   epsg,
			},
		})
	})
}

func registerJoin(api huma.API, s *server) {
	predicates := []struct {
		name      string
		summary   string
		predicate geometry.Predicate
	}{
		{"contains", "Join with features contained in this dataset's geometries", geometry.Contains},
		{"intersects", "Join with features intersecting this dataset's geometries", geometry.Intersects},
		{"within", "Join with features this dataset's geometries lie within", geometry.Within},
		{"within_distance", "Join with features within a distance of this dataset's geometries", geometry.WithinDistance},
	}
	for _, p := range predicates {
		p := p
		huma.Register(api, huma.Operation{
			OperationID: "join-" + p.name,
			Method:      http.MethodPost,
			Path:        "/join/" + p.name,
			Summary:     p.summary,
			Tags:        []string{"Join"},
			Errors:      transformErrors,
		}, func(ctx context.Context, input *struct {
			Body JoinRequest `json:"body"`
		}) (*struct {
			Body domain.DatasetInfo `json:"body"`
		}, error) {
			if input.Body.Right == "" {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "right is required", nil)
			}
			if p.predicate == geometry.WithinDistance && input.Body.Distance <= 0 {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "distance must be positive", nil)
			}
			return s.transform(ctx, core.TransformParams{
				Action: "join." + p.name,
				Source: input.Body.Src,
				Label:  input.Body.Label,
				Op: geometry.SpatialJoin{
					Predicate: p.predicate,
					Right:     input.Body.Right,
					Outer:     input.Body.JoinType != "inner",
					Distance:  input.Body.Distance,
				},
			})
		})
	}
}
