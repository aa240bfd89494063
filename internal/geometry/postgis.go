package geometry

import (
	"archive/tar"
	"archive/zip"
	"compress/gzip"
	"context"
	"crypto/md5"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/paulmach/orb/encoding/wkt"
	"github.com/paulmach/orb/geojson"
)

const ingestBatchSize = 1000

// driverByExt maps source file extensions to their driver names.
var driverByExt = map[string]string{
	".csv":     "CSV",
	".shp":     "ESRI Shapefile",
	".geojson": "GeoJSON",
	".json":    "GeoJSON",
	".gpkg":    "GPKG",
	".kml":     "KML",
	".tab":     "MapInfo File",
	".mif":     "MapInfo File",
	".dgn":     "DGN",
}

var exportExt = map[string]string{
	"CSV":            ".csv",
	"GeoJSON":        ".geojson",
	"GPKG":           ".gpkg",
	"KML":            ".kml",
	"ESRI Shapefile": "",
	"MapInfo File":   ".tab",
	"DGN":            ".dgn",
}

// Postgis implements Engine on a PostGIS database. Each namespace is a
// schema; derived datasets are views so no feature data is ever copied.
type Postgis struct {
	pool *pgxpool.Pool
	dsn  string
	log  *slog.Logger
}

// NewPostgis connects (lazily) to the database behind dsn.
func NewPostgis(ctx context.Context, dsn string, log *slog.Logger) (*Postgis, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, engineErr("connect", err)
	}
	if log == nil {
		log = slog.Default()
	}
	return &Postgis{pool: pool, dsn: dsn, log: log}, nil
}

func (p *Postgis) Close() { p.pool.Close() }

func (p *Postgis) Check(ctx context.Context) error {
	var one int
	if err := p.pool.QueryRow(ctx, "SELECT 1").Scan(&one); err != nil {
		return engineErr("check", err)
	}
	return nil
}

func (p *Postgis) CreateNamespace(ctx context.Context) (string, error) {
	ns := fmt.Sprintf("data_%x", md5.Sum([]byte(uuid.NewString())))
	if _, err := p.pool.Exec(ctx, "CREATE SCHEMA "+ident(ns)); err != nil {
		return "", engineErr("create namespace", err)
	}
	return ns, nil
}

func (p *Postgis) DropNamespace(ctx context.Context, ns string) error {
	if _, err := p.pool.Exec(ctx, "DROP SCHEMA IF EXISTS "+ident(ns)+" CASCADE"); err != nil {
		return engineErr("drop namespace", err)
	}
	return nil
}

func (p *Postgis) Ingest(ctx context.Context, ns, name string, opts IngestOptions) (*IngestResult, error) {
	file, err := extractArchive(opts.File)
	if err != nil {
		return nil, engineErr("ingest", err)
	}
	if fi, err := os.Stat(file); err == nil && fi.IsDir() {
		file, err = findSpatialFile(file)
		if err != nil {
			return nil, engineErr("ingest", err)
		}
	}
	ext := strings.ToLower(filepath.Ext(file))
	driver, ok := driverByExt[ext]
	if !ok {
		return nil, engineErr("ingest", fmt.Errorf("unsupported file type %q", ext))
	}
	p.log.Debug("starting ingestion", "file", file, "driver", driver)

	var epsg int
	switch driver {
	case "CSV":
		epsg, err = p.ingestCSV(ctx, ns, name, file, opts)
	case "GeoJSON":
		epsg, err = p.ingestGeoJSON(ctx, ns, name, file, opts)
	default:
		epsg, err = p.ingestOGR(ctx, ns, name, file, opts)
	}
	if err != nil {
		if errors.Is(err, ErrCRSNotFound) {
			return nil, err
		}
		return nil, engineErr("ingest", err)
	}

	count, bbox, err := p.stats(ctx, ns, name)
	if err != nil {
		return nil, engineErr("ingest", err)
	}
	p.log.Debug("ingested dataset", "table", name, "driver", driver, "epsg", epsg, "features", count)
	return &IngestResult{Ref: name, Driver: driver, EPSG: epsg, FeatureCount: count, BBox: bbox}, nil
}

func (p *Postgis) ingestCSV(ctx context.Context, ns, table, file string, opts IngestOptions) (int, error) {
	if opts.CRS == "" {
		return 0, fmt.Errorf("%w", ErrCRSNotFound)
	}
	srid, err := EPSGFromCRS(opts.CRS)
	if err != nil {
		return 0, err
	}
	f, err := os.Open(file)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	if opts.Delimiter != "" {
		r.Comma = rune(opts.Delimiter[0])
	}
	header, err := r.Read()
	if err != nil {
		return 0, fmt.Errorf("read header: %w", err)
	}

	geomCol := opts.GeomColumn
	if geomCol == "" {
		geomCol = "WKT"
	}
	pointMode := opts.Lat != "" && opts.Lon != ""
	latIdx, lonIdx, geomIdx := -1, -1, -1
	var attrs []string
	var attrIdx []int
	for i, col := range header {
		switch {
		case pointMode && col == opts.Lat:
			latIdx = i
			attrs = append(attrs, col)
			attrIdx = append(attrIdx, i)
		case pointMode && col == opts.Lon:
			lonIdx = i
			attrs = append(attrs, col)
			attrIdx = append(attrIdx, i)
		case !pointMode && col == geomCol:
			geomIdx = i
		default:
			attrs = append(attrs, col)
			attrIdx = append(attrIdx, i)
		}
	}
	if pointMode && (latIdx < 0 || lonIdx < 0) {
		return 0, fmt.Errorf("lat/lon columns %q/%q not found", opts.Lat, opts.Lon)
	}
	if !pointMode && geomIdx < 0 {
		return 0, fmt.Errorf("geometry column %q not found", geomCol)
	}

	gtype := "GEOMETRY"
	if pointMode {
		gtype = "POINT"
	}
	cols := make([]string, len(attrs))
	for i, a := range attrs {
		cols[i] = ident(a) + " TEXT"
	}
	create := fmt.Sprintf("CREATE TABLE %s (%s, geom geometry(%s, %d))",
		ident(ns, table), strings.Join(cols, ", "), gtype, srid)
	if _, err := p.pool.Exec(ctx, create); err != nil {
		return 0, err
	}

	placeholders := make([]string, len(attrs))
	for i := range attrs {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}
	insert := fmt.Sprintf("INSERT INTO %s VALUES (%s, ST_GeomFromText($%d, %d))",
		ident(ns, table), strings.Join(placeholders, ", "), len(attrs)+1, srid)

	batch := &pgx.Batch{}
	flush := func() error {
		if batch.Len() == 0 {
			return nil
		}
		err := p.pool.SendBatch(ctx, batch).Close()
		batch = &pgx.Batch{}
		return err
	}
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return 0, err
		}
		args := make([]any, 0, len(attrs)+1)
		for _, i := range attrIdx {
			args = append(args, rec[i])
		}
		if pointMode {
			args = append(args, fmt.Sprintf("POINT (%s %s)", rec[lonIdx], rec[latIdx]))
		} else {
			args = append(args, rec[geomIdx])
		}
		batch.Queue(insert, args...)
		if batch.Len() >= ingestBatchSize {
			if err := flush(); err != nil {
				return 0, err
			}
		}
	}
	return srid, flush()
}

func (p *Postgis) ingestGeoJSON(ctx context.Context, ns, table, file string, opts IngestOptions) (int, error) {
	srid := 4326
	if opts.CRS != "" {
		var err error
		srid, err = EPSGFromCRS(opts.CRS)
		if err != nil {
			return 0, err
		}
	}
	data, err := os.ReadFile(file)
	if err != nil {
		return 0, err
	}
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return 0, fmt.Errorf("parse geojson: %w", err)
	}
	if len(fc.Features) == 0 {
		return 0, fmt.Errorf("empty feature collection")
	}

	var attrs []string
	for key := range fc.Features[0].Properties {
		attrs = append(attrs, key)
	}
	cols := make([]string, len(attrs))
	for i, a := range attrs {
		cols[i] = ident(a) + " TEXT"
	}
	create := fmt.Sprintf("CREATE TABLE %s (%s, geom geometry(GEOMETRY, %d))",
		ident(ns, table), strings.Join(cols, ", "), srid)
	if _, err := p.pool.Exec(ctx, create); err != nil {
		return 0, err
	}

	placeholders := make([]string, len(attrs))
	for i := range attrs {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}
	insert := fmt.Sprintf("INSERT INTO %s VALUES (%s, ST_GeomFromText($%d, %d))",
		ident(ns, table), strings.Join(placeholders, ", "), len(attrs)+1, srid)

	batch := &pgx.Batch{}
	for _, feat := range fc.Features {
		args := make([]any, 0, len(attrs)+1)
		for _, a := range attrs {
			args = append(args, fmt.Sprint(feat.Properties[a]))
		}
		args = append(args, wkt.MarshalString(feat.Geometry))
		batch.Queue(insert, args...)
		if batch.Len() >= ingestBatchSize {
			if err := p.pool.SendBatch(ctx, batch).Close(); err != nil {
				return 0, err
			}
			batch = &pgx.Batch{}
		}
	}
	if batch.Len() > 0 {
		if err := p.pool.SendBatch(ctx, batch).Close(); err != nil {
			return 0, err
		}
	}
	return srid, nil
}

// ingestOGR delegates formats we do not parse natively to ogr2ogr.
func (p *Postgis) ingestOGR(ctx context.Context, ns, table, file string, opts IngestOptions) (int, error) {
	args := []string{
		"-f", "PostgreSQL", "PG:" + p.dsn, file,
		"-nln", ns + "." + table,
		"-lco", "GEOMETRY_NAME=geom",
		"-lco", "FID=ogc_fid",
	}
	if opts.CRS != "" {
		args = append(args, "-a_srs", opts.CRS)
	}
	if opts.Encoding != "" {
		args = append(args, "--config", "SHAPE_ENCODING", opts.Encoding)
	}
	cmd := exec.CommandContext(ctx, "ogr2ogr", args...)
	if out, err := cmd.CombinedOutput(); err != nil {
		return 0, fmt.Errorf("ogr2ogr: %v: %s", err, strings.TrimSpace(string(out)))
	}
	var srid int
	err := p.pool.QueryRow(ctx, "SELECT Find_SRID($1, $2, 'geom')", ns, table).Scan(&srid)
	if err != nil || srid == 0 {
		if opts.CRS != "" {
			return EPSGFromCRS(opts.CRS)
		}
		_, _ = p.pool.Exec(ctx, "DROP TABLE IF EXISTS "+ident(ns, table))
		return 0, fmt.Errorf("%w", ErrCRSNotFound)
	}
	return srid, nil
}

func (p *Postgis) stats(ctx context.Context, ns, table string) (int, []float64, error) {
	var count int
	var box *string
	err := p.pool.QueryRow(ctx,
		"SELECT count(*), ST_Extent(geom)::text FROM "+ident(ns, table)).Scan(&count, &box)
	if err != nil {
		return 0, nil, err
	}
	if box == nil {
		return count, nil, nil
	}
	var xmin, ymin, xmax, ymax float64
	if _, err := fmt.Sscanf(*box, "BOX(%f %f,%f %f)", &xmin, &ymin, &xmax, &ymax); err != nil {
		return count, nil, nil
	}
	return count, []float64{xmin, ymin, xmax, ymax}, nil
}

func (p *Postgis) MaterializeView(ctx context.Context, ns, name, source string, op Operation) (string, error) {
	cols, err := p.columns(ctx, ns, source)
	if err != nil {
		return "", engineErr("materialize", err)
	}
	var rightCols []string
	if join, ok := op.(SpatialJoin); ok {
		rightCols, err = p.columns(ctx, ns, join.Right)
		if err != nil {
			return "", engineErr("materialize", err)
		}
	}
	sql, err := viewSQL(ns, name, source, cols, rightCols, op)
	if err != nil {
		return "", engineErr("materialize", err)
	}
	if _, err := p.pool.Exec(ctx, sql); err != nil {
		return "", engineErr("materialize", err)
	}
	p.log.Debug("created view", "sql", sql)
	return name, nil
}

// columns lists the non-geometry column names of a table in stable order.
func (p *Postgis) columns(ctx context.Context, ns, table string) ([]string, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT column_name FROM information_schema.columns
		 WHERE table_schema = $1 AND table_name = $2 AND column_name != 'geom'
		 ORDER BY ordinal_position`, ns, table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var cols []string
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, err
		}
		cols = append(cols, c)
	}
	return cols, rows.Err()
}

func (p *Postgis) Rows(ctx context.Context, ns, ref string, page, perPage int) (*RowPage, error) {
	query := fmt.Sprintf("SELECT *, ST_AsText(geom, 8) AS geom_wkt FROM %s LIMIT %d OFFSET %d",
		ident(ns, ref), perPage, perPage*(page-1))
	rows, err := p.pool.Query(ctx, query)
	if err != nil {
		return nil, engineErr("rows", err)
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	var data []map[string]any
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, engineErr("rows", err)
		}
		record := make(map[string]any, len(fields))
		for i, f := range fields {
			if f.Name == "geom" {
				continue
			}
			name := f.Name
			if name == "geom_wkt" {
				name = "geom"
			}
			record[name] = values[i]
		}
		data = append(data, record)
	}
	if err := rows.Err(); err != nil {
		return nil, engineErr("rows", err)
	}
	hasMore, err := p.hasMore(ctx, ns, ref, page, perPage)
	if err != nil {
		return nil, engineErr("rows", err)
	}
	return &RowPage{
		Info: PageInfo{Dataset: ref, Page: page, ResultsPerPage: perPage, HasMore: hasMore},
		Data: data,
	}, nil
}

func (p *Postgis) GeoJSON(ctx context.Context, ns, ref string, page, perPage int) (*FeaturePage, error) {
	query := fmt.Sprintf(`WITH subset AS (SELECT * FROM %s LIMIT %d OFFSET %d)
		SELECT json_build_object('type', 'FeatureCollection', 'features',
			json_agg(json_build_object('type', 'Feature',
				'geometry', ST_AsGeoJSON(ST_Transform(geom, 4326))::json,
				'properties', to_jsonb(subset) - 'geom')))::text
		FROM subset`, ident(ns, ref), perPage, perPage*(page-1))
	var raw string
	if err := p.pool.QueryRow(ctx, query).Scan(&raw); err != nil {
		return nil, engineErr("geojson", err)
	}
	var data map[string]any
	if err := json.Unmarshal([]byte(raw), &data); err != nil {
		return nil, engineErr("geojson", err)
	}
	hasMore, err := p.hasMore(ctx, ns, ref, page, perPage)
	if err != nil {
		return nil, engineErr("geojson", err)
	}
	return &FeaturePage{
		Info: PageInfo{Dataset: ref, Page: page, ResultsPerPage: perPage, HasMore: hasMore},
		Data: data,
	}, nil
}

func (p *Postgis) hasMore(ctx context.Context, ns, ref string, page, perPage int) (bool, error) {
	query := fmt.Sprintf("SELECT 1 FROM %s LIMIT 1 OFFSET %d", ident(ns, ref), perPage*page)
	var one int
	err := p.pool.QueryRow(ctx, query).Scan(&one)
	if err == pgx.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (p *Postgis) ExportToFile(ctx context.Context, ns, ref, dir, driver string, opts ExportOptions) (string, error) {
	ext, ok := exportExt[driver]
	if !ok {
		return "", engineErr("export", fmt.Errorf("unsupported driver %q", driver))
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", engineErr("export", err)
	}
	filename := opts.Filename
	if filename == "" {
		filename = ref
	}

	var out string
	var err error
	switch driver {
	case "CSV":
		out = filepath.Join(dir, filename+ext)
		err = p.exportCSV(ctx, ns, ref, out, opts)
	case "GeoJSON":
		out = filepath.Join(dir, filename+ext)
		err = p.exportGeoJSON(ctx, ns, ref, out)
	case "ESRI Shapefile":
		out = filepath.Join(dir, filename)
		err = p.exportOGR(ctx, ns, ref, out, driver, opts)
	default:
		out = filepath.Join(dir, filename+ext)
		err = p.exportOGR(ctx, ns, ref, out, driver, opts)
	}
	if err != nil {
		return "", engineErr("export", err)
	}
	archive, err := compressFiles(out)
	if err != nil {
		return "", engineErr("export", err)
	}
	p.log.Debug("exported dataset", "table", ref, "file", archive, "driver", driver)
	return archive, nil
}

func (p *Postgis) exportCSV(ctx context.Context, ns, ref, path string, opts ExportOptions) error {
	query := fmt.Sprintf("SELECT *, ST_AsText(geom) AS wkt FROM %s", ident(ns, ref))
	rows, err := p.pool.Query(ctx, query)
	if err != nil {
		return err
	}
	defer rows.Close()

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	w := csv.NewWriter(f)
	if opts.Delimiter != "" {
		w.Comma = rune(opts.Delimiter[0])
	}

	fields := rows.FieldDescriptions()
	header := make([]string, 0, len(fields))
	keep := make([]int, 0, len(fields))
	for i, fd := range fields {
		if fd.Name == "geom" {
			continue
		}
		name := fd.Name
		if name == "wkt" {
			name = "WKT"
		}
		header = append(header, name)
		keep = append(keep, i)
	}
	if err := w.Write(header); err != nil {
		return err
	}
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return err
		}
		record := make([]string, len(keep))
		for j, i := range keep {
			if values[i] != nil {
				record[j] = fmt.Sprint(values[i])
			}
		}
		if err := w.Write(record); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}
	w.Flush()
	return w.Error()
}

func (p *Postgis) exportGeoJSON(ctx context.Context, ns, ref, path string) error {
	query := fmt.Sprintf(`SELECT json_build_object('type', 'FeatureCollection', 'features',
		coalesce(json_agg(json_build_object('type', 'Feature',
			'geometry', ST_AsGeoJSON(ST_Transform(geom, 4326))::json,
			'properties', to_jsonb(t) - 'geom')), '[]'::json))::text
		FROM %s t`, ident(ns, ref))
	var raw string
	if err := p.pool.QueryRow(ctx, query).Scan(&raw); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(raw), 0o644)
}

func (p *Postgis) exportOGR(ctx context.Context, ns, ref, path, driver string, opts ExportOptions) error {
	args := []string{
		"-f", driver, path, "PG:" + p.dsn,
		"-sql", fmt.Sprintf("SELECT * FROM %s", ident(ns, ref)),
	}
	if opts.Encoding != "" {
		args = append(args, "--config", "SHAPE_ENCODING", opts.Encoding)
	}
	cmd := exec.CommandContext(ctx, "ogr2ogr", args...)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("ogr2ogr: %v: %s", err, strings.TrimSpace(string(out)))
	}
	return nil
}

// EPSGFromCRS accepts "EPSG:4326" or a bare numeric code.
func EPSGFromCRS(crs string) (int, error) {
	s := strings.TrimSpace(crs)
	if i := strings.LastIndexByte(s, ':'); i >= 0 {
		s = s[i+1:]
	}
	epsg, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("cannot parse CRS %q: %w", crs, ErrCRSNotFound)
	}
	return epsg, nil
}

// extractArchive unpacks zip and tar files next to themselves and returns
// the extraction directory. Plain files pass through.
func extractArchive(file string) (string, error) {
	dir, name := filepath.Split(file)
	target := filepath.Join(dir, strings.TrimSuffix(name, filepath.Ext(name)))
	if zr, err := zip.OpenReader(file); err == nil {
		defer zr.Close()
		for _, f := range zr.File {
			if err := extractZipEntry(f, target); err != nil {
				return "", err
			}
		}
		return target, nil
	}
	f, err := os.Open(file)
	if err != nil {
		return "", err
	}
	defer f.Close()
	var r io.Reader = f
	if gz, err := gzip.NewReader(f); err == nil {
		defer gz.Close()
		r = gz
	} else {
		if _, err := f.Seek(0, io.SeekStart); err != nil {
			return "", err
		}
	}
	tr := tar.NewReader(r)
	extracted := false
	for {
		hdr, err := tr.Next()
		if err != nil {
			break
		}
		if err := extractTarEntry(tr, hdr, target); err != nil {
			return "", err
		}
		extracted = true
	}
	if extracted {
		return target, nil
	}
	return file, nil
}

func extractZipEntry(f *zip.File, target string) error {
	path, err := securePath(target, f.Name)
	if err != nil {
		return err
	}
	if f.FileInfo().IsDir() {
		return os.MkdirAll(path, 0o755)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	src, err := f.Open()
	if err != nil {
		return err
	}
	defer src.Close()
	dst, err := os.Create(path)
	if err != nil {
		return err
	}
	defer dst.Close()
	_, err = io.Copy(dst, src)
	return err
}

func extractTarEntry(tr *tar.Reader, hdr *tar.Header, target string) error {
	path, err := securePath(target, hdr.Name)
	if err != nil {
		return err
	}
	switch hdr.Typeflag {
	case tar.TypeDir:
		return os.MkdirAll(path, 0o755)
	case tar.TypeReg:
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return err
		}
		dst, err := os.Create(path)
		if err != nil {
			return err
		}
		defer dst.Close()
		_, err = io.Copy(dst, tr)
		return err
	}
	return nil
}

func securePath(base, name string) (string, error) {
	path := filepath.Join(base, filepath.Clean("/"+name))
	if !strings.HasPrefix(path, filepath.Clean(base)+string(os.PathSeparator)) && path != filepath.Clean(base) {
		return "", fmt.Errorf("archive entry escapes target: %q", name)
	}
	return path, nil
}

// findSpatialFile locates the first supported file inside an extracted
// archive directory.
func findSpatialFile(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", err
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if _, ok := driverByExt[strings.ToLower(filepath.Ext(e.Name()))]; ok {
			return filepath.Join(dir, e.Name()), nil
		}
	}
	return "", fmt.Errorf("no supported spatial file in %s", dir)
}

// compressFiles archives an export to tar.gz. Directories include all their
// files; single files produce a one-entry archive.
func compressFiles(path string) (string, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return "", err
	}
	result := path + ".tar.gz"
	out, err := os.Create(result)
	if err != nil {
		return "", err
	}
	defer out.Close()
	gz := gzip.NewWriter(out)
	defer gz.Close()
	tw := tar.NewWriter(gz)
	defer tw.Close()

	add := func(file, arcname string) error {
		info, err := os.Stat(file)
		if err != nil {
			return err
		}
		hdr, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		hdr.Name = arcname
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		src, err := os.Open(file)
		if err != nil {
			return err
		}
		defer src.Close()
		_, err = io.Copy(tw, src)
		return err
	}

	if fi.IsDir() {
		entries, err := os.ReadDir(path)
		if err != nil {
			return "", err
		}
		for _, e := range entries {
			if e.IsDir() {
				continue
			}
			if err := add(filepath.Join(path, e.Name()), e.Name()); err != nil {
				return "", err
			}
		}
	} else {
		if err := add(path, filepath.Base(path)); err != nil {
			return "", err
		}
	}
	return result, nil
}
