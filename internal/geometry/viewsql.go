package geometry

import (
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
)

var filterFuncs = map[Predicate]string{
	Contains:         "ST_Contains",
	ContainsProperly: "ST_ContainsProperly",
	Covers:           "ST_Covers",
	CoveredBy:        "ST_CoveredBy",
	Crosses:          "ST_Crosses",
	Disjoint:         "ST_Disjoint",
	Intersects:       "ST_Intersects",
	Within:           "ST_Within",
}

var joinFuncs = map[Predicate]string{
	Contains:       "ST_Contains",
	Intersects:     "ST_Intersects",
	Within:         "ST_Within",
	WithinDistance: "ST_DWithin",
}

func ident(parts ...string) string {
	return pgx.Identifier(parts).Sanitize()
}

func quoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// viewSQL renders the CREATE VIEW statement that materializes op over
// source. cols and rightCols are the non-geometry columns of the source and
// join tables, in stable order.
func viewSQL(ns, name, source string, cols, rightCols []string, op Operation) (string, error) {
	switch o := op.(type) {
	case Centroid:
		return actionViewSQL(ns, name, source, cols, "ST_Centroid", nil), nil
	case ConvexHull:
		return actionViewSQL(ns, name, source, cols, "ST_ConvexHull", nil), nil
	case FlipCoordinates:
		return actionViewSQL(ns, name, source, cols, "ST_FlipCoordinates", nil), nil
	case MakeValid:
		return actionViewSQL(ns, name, source, cols, "ST_MakeValid", nil), nil
	case SpatialFilter:
		fn, ok := filterFuncs[o.Predicate]
		if !ok {
			return "", fmt.Errorf("unknown filter predicate %q", o.Predicate)
		}
		arg := fmt.Sprintf("ST_GeomFromText(%s, %d)", quoteLiteral(o.WKT), o.SRID)
		return filterViewSQL(ns, name, source, fn, arg), nil
	case BufferFilter:
		arg := fmt.Sprintf("ST_SetSRID(ST_Point(%g, %g), %d)", o.X, o.Y, o.SRID)
		if o.TargetSRID != 0 && o.TargetSRID != o.SRID {
			arg = fmt.Sprintf("ST_Transform(%s, %d)", arg, o.TargetSRID)
		}
		arg = fmt.Sprintf("%s, %g", arg, o.Radius)
		return filterViewSQL(ns, name, source, "ST_DWithin", arg), nil
	case SpatialJoin:
		fn, ok := joinFuncs[o.Predicate]
		if !ok {
			return "", fmt.Errorf("unknown join predicate %q", o.Predicate)
		}
		return joinViewSQL(ns, name, source, o.Right, cols, rightCols, fn, o), nil
	default:
		return "", fmt.Errorf("unknown operation %T", op)
	}
}

func actionViewSQL(ns, name, table string, cols []string, fn string, args []string) string {
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = ident(c)
	}
	arg := "geom"
	if len(args) > 0 {
		arg = "geom, " + strings.Join(args, ", ")
	}
	return fmt.Sprintf("CREATE VIEW %s AS (SELECT %s, %s(%s)::geometry AS geom FROM %s)",
		ident(ns, name), strings.Join(quoted, ", "), fn, arg, ident(ns, table))
}

func filterViewSQL(ns, name, table, fn, arg string) string {
	return fmt.Sprintf("CREATE VIEW %s AS (SELECT * FROM %s WHERE %s(geom, %s))",
		ident(ns, name), ident(ns, table), fn, arg)
}

func joinViewSQL(ns, name, left, right string, leftCols, rightCols []string, fn string, o SpatialJoin) string {
	sel := make([]string, 0, len(leftCols)+len(rightCols)+1)
	for _, c := range leftCols {
		sel = append(sel, fmt.Sprintf("%s.%s AS %s", ident(left), ident(c), ident(left+"_"+c)))
	}
	for _, c := range rightCols {
		sel = append(sel, fmt.Sprintf("%s.%s AS %s", ident(right), ident(c), ident(right+"_"+c)))
	}
	sel = append(sel, ident(left)+".geom")

	joinType := "INNER"
	if o.Outer {
		joinType = "LEFT"
	}
	rightGeom := ident(right) + ".geom"
	if o.RightSRID != 0 && o.LeftSRID != 0 && o.RightSRID != o.LeftSRID {
		rightGeom = fmt.Sprintf("ST_Transform(%s, %d)", rightGeom, o.LeftSRID)
	}
	cond := fmt.Sprintf("%s(%s.geom, %s)", fn, ident(left), rightGeom)
	if o.Predicate == WithinDistance {
		cond = fmt.Sprintf("%s(%s.geom, %s, %g)", fn, ident(left), rightGeom, o.Distance)
	}
	return fmt.Sprintf("CREATE VIEW %s AS (SELECT %s FROM %s %s JOIN %s ON %s)",
		ident(ns, name), strings.Join(sel, ", "), ident(ns, left), joinType, ident(ns, right), cond)
}
