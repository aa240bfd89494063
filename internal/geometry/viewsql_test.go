package geometry

import "testing"

func TestActionViewSQL(t *testing.T) {
	got, err := viewSQL("data_ab", "pts", "roads", []string{"id", "name"}, nil, Centroid{})
	if err != nil {
		t.Fatalf("viewSQL: %v", err)
	}
	want := `CREATE VIEW "data_ab"."pts" AS (SELECT "id", "name", ST_Centroid(geom)::geometry AS geom FROM "data_ab"."roads")`
	if got != want {
		t.Fatalf("got %s\nwant %s", got, want)
	}
}

func TestFilterViewSQL(t *testing.T) {
	got, err := viewSQL("data_ab", "inside", "roads", nil, nil, SpatialFilter{
		Predicate: Within,
		WKT:       "POLYGON ((0 0, 1 0, 1 1, 0 0))",
		SRID:      2100,
	})
	if err != nil {
		t.Fatalf("viewSQL: %v", err)
	}
	want := `CREATE VIEW "data_ab"."inside" AS (SELECT * FROM "data_ab"."roads" WHERE ST_Within(geom, ST_GeomFromText('POLYGON ((0 0, 1 0, 1 1, 0 0))', 2100)))`
	if got != want {
		t.Fatalf("got %s\nwant %s", got, want)
	}
}

func TestFilterViewSQLQuotesLiteral(t *testing.T) {
	got, err := viewSQL("ns", "v", "t", nil, nil, SpatialFilter{
		Predicate: Intersects,
		WKT:       "POINT ('1 1)",
		SRID:      4326,
	})
	if err != nil {
		t.Fatalf("viewSQL: %v", err)
	}
	want := `CREATE VIEW "ns"."v" AS (SELECT * FROM "ns"."t" WHERE ST_Intersects(geom, ST_GeomFromText('POINT (''1 1)', 4326)))`
	if got != want {
		t.Fatalf("got %s\nwant %s", got, want)
	}
}

func TestBufferViewSQL(t *testing.T) {
	// Same SRID as the dataset: no transform.
	got, err := viewSQL("ns", "near", "t", nil, nil, BufferFilter{
		X: 23.7, Y: 37.9, Radius: 500, SRID: 2100, TargetSRID: 2100,
	})
	if err != nil {
		t.Fatalf("viewSQL: %v", err)
	}
	want := `CREATE VIEW "ns"."near" AS (SELECT * FROM "ns"."t" WHERE ST_DWithin(geom, ST_SetSRID(ST_Point(23.7, 37.9), 2100), 500))`
	if got != want {
		t.Fatalf("got %s\nwant %s", got, want)
	}

	// Point CRS differs from the dataset: reproject the point.
	got, err = viewSQL("ns", "near", "t", nil, nil, BufferFilter{
		X: 23.7, Y: 37.9, Radius: 500, SRID: 4326, TargetSRID: 2100,
	})
	if err != nil {
		t.Fatalf("viewSQL: %v", err)
	}
	want = `CREATE VIEW "ns"."near" AS (SELECT * FROM "ns"."t" WHERE ST_DWithin(geom, ST_Transform(ST_SetSRID(ST_Point(23.7, 37.9), 4326), 2100), 500))`
	if got != want {
		t.Fatalf("got %s\nwant %s", got, want)
	}
}

func TestJoinViewSQL(t *testing.T) {
	op := SpatialJoin{
		Predicate: Intersects,
		Right:     "zones",
		LeftSRID:  4326,
		RightSRID: 4326,
	}
	got, err := viewSQL("ns", "joined", "roads", []string{"id"}, []string{"zone"}, op)
	if err != nil {
		t.Fatalf("viewSQL: %v", err)
	}
	want := `CREATE VIEW "ns"."joined" AS (SELECT "roads"."id" AS "roads_id", "zones"."zone" AS "zones_zone", "roads".geom FROM "ns"."roads" INNER JOIN "ns"."zones" ON ST_Intersects("roads".geom, "zones".geom))`
	if got != want {
		t.Fatalf("got %s\nwant %s", got, want)
	}
}

func TestJoinViewSQLOuterTransformDistance(t *testing.T) {
	op := SpatialJoin{
		Predicate: WithinDistance,
		Right:     "zones",
		Outer:     true,
		Distance:  25,
		LeftSRID:  2100,
		RightSRID: 4326,
	}
	got, err := viewSQL("ns", "joined", "roads", []string{"id"}, []string{"zone"}, op)
	if err != nil {
		t.Fatalf("viewSQL: %v", err)
	}
	want := `CREATE VIEW "ns"."joined" AS (SELECT "roads"."id" AS "roads_id", "zones"."zone" AS "zones_zone", "roads".geom FROM "ns"."roads" LEFT JOIN "ns"."zones" ON ST_DWithin("roads".geom, ST_Transform("zones".geom, 2100), 25))`
	if got != want {
		t.Fatalf("got %s\nwant %s", got, want)
	}
}

func TestViewSQLRejectsUnknownPredicate(t *testing.T) {
	if _, err := viewSQL("ns", "v", "t", nil, nil, SpatialJoin{Predicate: Crosses, Right: "r"}); err == nil {
		t.Fatal("expected error for join predicate crosses")
	}
}

func TestEPSGFromCRS(t *testing.T) {
	cases := []struct {
		in   string
		want int
		ok   bool
	}{
		{"EPSG:4326", 4326, true},
		{"epsg:2100", 2100, true},
		{"3857", 3857, true},
		{"urn:nonsense", 0, false},
		{"", 0, false},
	}
	for _, tc := range cases {
		got, err := EPSGFromCRS(tc.in)
		if tc.ok && (err != nil || got != tc.want) {
			t.Fatalf("%q: got %d, %v", tc.in, got, err)
		}
		if !tc.ok && err == nil {
			t.Fatalf("%q: expected error", tc.in)
		}
	}
}
