package gpkg

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"math"
	"path/filepath"
	"testing"

	"github.com/go-spatial/geom"
	"github.com/go-spatial/geom/encoding/wkb"
	"github.com/stretchr/testify/require"

	"github.com/2younis/geoengine/pkg/engine"
	"github.com/2younis/geoengine/pkg/features"
	"github.com/2younis/geoengine/pkg/geo"
	"github.com/2younis/geoengine/pkg/operators/source/sqlcommon"
	"github.com/2younis/geoengine/pkg/workflow"
)

func newTestExecutionContext(t *testing.T) *engine.ExecutionContext {
	t.Helper()
	ectx, err := engine.NewExecutionContext(
		engine.WithTilingSpecification(engine.TilingSpecification{
			Origin:    geo.NewCoordinate2D(0, 0),
			TileShape: geo.GridShape(2, 2),
		}),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, ectx.Close())
	})
	return ectx
}

func testQueryRect() geo.QueryRectangle {
	return geo.NewQueryRectangle(
		geo.MustBoundingBox2D(0, -4, 4, 0),
		geo.MustTimeInterval(0, 10),
		geo.MustSpatialResolution(1, 1),
	)
}

// gpkgBlob wraps well-known binary in a GeoPackage geometry header without
// an envelope.
func gpkgBlob(t *testing.T, g geom.Geometry) []byte {
	t.Helper()
	raw, err := wkb.EncodeBytes(g)
	require.NoError(t, err)
	header := []byte{'G', 'P', 0, 0x01, 0xe6, 0x10, 0x00, 0x00}
	return append(header, raw...)
}

// gpkgBlobWithEnvelope wraps well-known binary in a header carrying an x/y
// envelope.
func gpkgBlobWithEnvelope(t *testing.T, g geom.Geometry, minX, maxX, minY, maxY float64) []byte {
	t.Helper()
	raw, err := wkb.EncodeBytes(g)
	require.NoError(t, err)
	blob := []byte{'G', 'P', 0, 0x03, 0xe6, 0x10, 0x00, 0x00}
	for _, v := range []float64{minX, maxX, minY, maxY} {
		blob = binary.LittleEndian.AppendUint64(blob, math.Float64bits(v))
	}
	return append(blob, raw...)
}

// emptyGpkgBlob is a header with the empty geometry flag set.
func emptyGpkgBlob() []byte {
	return []byte{'G', 'P', 0, 0x11, 0xe6, 0x10, 0x00, 0x00}
}

// buildTestGeoPackage writes a GeoPackage with a point layer, a line layer
// and a non-feature entry.
func buildTestGeoPackage(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.gpkg")
	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	defer func() { require.NoError(t, db.Close()) }()

	for _, stmt := range []string{
		`CREATE TABLE gpkg_contents (table_name TEXT PRIMARY KEY, data_type TEXT, identifier TEXT, srs_id INTEGER)`,
		`CREATE TABLE gpkg_geometry_columns (table_name TEXT, column_name TEXT, geometry_type_name TEXT, srs_id INTEGER, z TINYINT, m TINYINT)`,
		`CREATE TABLE cities (fid INTEGER PRIMARY KEY, geom BLOB, name TEXT, population MEDIUMINT, founded REAL, t_start INTEGER, t_end INTEGER, thumbnail BLOB)`,
		`CREATE TABLE rivers (fid INTEGER PRIMARY KEY, geom BLOB, name TEXT)`,
		`INSERT INTO gpkg_contents VALUES ('cities', 'features', 'cities', 4326)`,
		`INSERT INTO gpkg_contents VALUES ('rivers', 'features', 'rivers', 4326)`,
		`INSERT INTO gpkg_contents VALUES ('elevation', '2d-gridded-coverage', 'elevation', 4326)`,
		`INSERT INTO gpkg_geometry_columns VALUES ('cities', 'geom', 'POINT', 4326, 0, 0)`,
		`INSERT INTO gpkg_geometry_columns VALUES ('rivers', 'geom', 'LINESTRING', 4326, 0, 0)`,
	} {
		_, err := db.Exec(stmt)
		require.NoError(t, err)
	}

	city := func(geomRaw any, name string, population, founded, start, end any) {
		_, err := db.Exec(
			`INSERT INTO cities (geom, name, population, founded, t_start, t_end) VALUES (?, ?, ?, ?, ?, ?)`,
			geomRaw, name, population, founded, start, end)
		require.NoError(t, err)
	}
	city(gpkgBlob(t, geom.Point{1, -1}), "Aville", 1000, 1999.5, 0, 5)
	city(gpkgBlobWithEnvelope(t, geom.Point{2, -2}, 2, 2, -2, -2), "Bton", 2000, nil, 5, 15)
	city(gpkgBlob(t, geom.Point{3, -3}), "Cfield", nil, 2001.25, nil, nil)
	city(gpkgBlob(t, geom.Point{9, -9}), "Dorp", 40, 2010.0, 0, 5)
	city(gpkgBlob(t, geom.Point{1, -1}), "Future", 50, 2020.0, 100, 200)
	city(emptyGpkgBlob(), "Empty", 60, 2020.0, 0, 5)
	city(nil, "Nowhere", 70, 2020.0, 0, 5)

	_, err = db.Exec(`INSERT INTO rivers (geom, name) VALUES (?, ?)`,
		gpkgBlob(t, geom.LineString{{0.5, -0.5}, {5, -5}}), "Longflow")
	require.NoError(t, err)
	return path
}

func queryLayer(t *testing.T, params SourceParams, rect geo.QueryRectangle) (engine.VectorResultDescriptor, []*features.Collection, error) {
	t.Helper()
	ectx := newTestExecutionContext(t)
	op, err := NewSource(params)
	require.NoError(t, err)
	init, err := engine.InitializeVector(context.Background(), ectx.ForQuery("test"), op)
	if err != nil {
		return engine.VectorResultDescriptor{}, nil, err
	}
	proc, err := init.QueryProcessor()
	if err != nil {
		return engine.VectorResultDescriptor{}, nil, err
	}
	iter, err := proc.VectorQuery(context.Background(), rect, engine.DefaultQueryContext())
	if err != nil {
		return engine.VectorResultDescriptor{}, nil, err
	}
	chunks, err := engine.Collect(context.Background(), iter)
	return init.ResultDescriptor(), chunks, err
}

func TestGeoPackageSourceReadsLayer(t *testing.T) {
	path := buildTestGeoPackage(t)
	descriptor, chunks, err := queryLayer(t, SourceParams{
		Path:      path,
		Layer:     "cities",
		TimeStart: "t_start",
		TimeEnd:   "t_end",
	}, testQueryRect())
	require.NoError(t, err)

	require.Equal(t, features.VectorDataTypeMultiPoint, descriptor.DataType)
	require.Equal(t, geo.SpatialReferenceEpsg4326, descriptor.SRS)
	require.Equal(t, map[string]features.ColumnType{
		"name":       features.ColumnTypeText,
		"population": features.ColumnTypeInt,
		"founded":    features.ColumnTypeFloat,
	}, descriptor.Columns)

	require.Len(t, chunks, 1)
	chunk := chunks[0]
	require.Equal(t, 3, chunk.Len())

	names := chunk.Column("name")
	wantNames := []string{"Aville", "Bton", "Cfield"}
	for i, want := range wantNames {
		name, ok := names.TextAt(i)
		require.True(t, ok)
		require.Equal(t, want, name)
	}

	require.Equal(t, geom.MultiPoint{{1, -1}}, chunk.GeometryAt(0))
	require.Equal(t, geo.MustTimeInterval(0, 5), chunk.TimeAt(0))
	require.Equal(t, geo.MustTimeInterval(5, 15), chunk.TimeAt(1))
	require.Equal(t, geo.MaxTimeInterval, chunk.TimeAt(2))

	population := chunk.Column("population")
	p, ok := population.IntAt(0)
	require.True(t, ok)
	require.EqualValues(t, 1000, p)
	_, ok = population.IntAt(2)
	require.False(t, ok)

	founded := chunk.Column("founded")
	f, ok := founded.FloatAt(0)
	require.True(t, ok)
	require.Equal(t, 1999.5, f)
	_, ok = founded.FloatAt(1)
	require.False(t, ok)
}

func TestGeoPackageSourceWithoutTimeColumns(t *testing.T) {
	path := buildTestGeoPackage(t)
	descriptor, chunks, err := queryLayer(t, SourceParams{Path: path, Layer: "cities"}, testQueryRect())
	require.NoError(t, err)

	// Unconfigured time columns stay plain attributes and every feature
	// covers all of time.
	require.Contains(t, descriptor.Columns, "t_start")
	require.Contains(t, descriptor.Columns, "t_end")

	require.Len(t, chunks, 1)
	chunk := chunks[0]
	require.Equal(t, 4, chunk.Len())
	for i := 0; i < chunk.Len(); i++ {
		require.Equal(t, geo.MaxTimeInterval, chunk.TimeAt(i))
	}
	name, ok := chunk.Column("name").TextAt(3)
	require.True(t, ok)
	require.Equal(t, "Future", name)
}

func TestGeoPackageSourceLineLayer(t *testing.T) {
	path := buildTestGeoPackage(t)
	descriptor, chunks, err := queryLayer(t, SourceParams{Path: path, Layer: "rivers"}, testQueryRect())
	require.NoError(t, err)

	require.Equal(t, features.VectorDataTypeMultiLineString, descriptor.DataType)
	require.Len(t, chunks, 1)
	require.Equal(t, 1, chunks[0].Len())
	require.Equal(t, geom.MultiLineString{{{0.5, -0.5}, {5, -5}}}, chunks[0].GeometryAt(0))
}

func TestGeoPackageSourceEmptyResultCarriesSchema(t *testing.T) {
	path := buildTestGeoPackage(t)
	rect := testQueryRect().WithBBox(geo.MustBoundingBox2D(100, -104, 104, -100))
	_, chunks, err := queryLayer(t, SourceParams{Path: path, Layer: "rivers"}, rect)
	require.NoError(t, err)

	require.Len(t, chunks, 1)
	require.True(t, chunks[0].IsEmpty())
	require.Equal(t, map[string]features.ColumnType{"name": features.ColumnTypeText}, chunks[0].ColumnTypes())
}

func TestGeoPackageSourceUnknownLayer(t *testing.T) {
	path := buildTestGeoPackage(t)
	for _, layer := range []string{"nope", "elevation"} {
		_, _, err := queryLayer(t, SourceParams{Path: path, Layer: layer}, testQueryRect())
		var initErr *engine.InitializationError
		require.ErrorAs(t, err, &initErr, layer)
		require.ErrorIs(t, err, engine.ErrDatasetNotFound, layer)
	}
}

func TestGeoPackageSourceMissingFile(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "void.gpkg")
	_, _, err := queryLayer(t, SourceParams{Path: missing, Layer: "cities"}, testQueryRect())
	var initErr *engine.InitializationError
	require.ErrorAs(t, err, &initErr)
}

func TestGeoPackageSourceRejectsMissingTimeColumn(t *testing.T) {
	path := buildTestGeoPackage(t)
	_, _, err := queryLayer(t, SourceParams{
		Path:      path,
		Layer:     "cities",
		TimeStart: "t_start",
		TimeEnd:   "bogus",
	}, testQueryRect())
	require.ErrorContains(t, err, `no column "bogus"`)

	_, _, err = queryLayer(t, SourceParams{
		Path:      path,
		Layer:     "cities",
		TimeStart: "name",
		TimeEnd:   "t_end",
	}, testQueryRect())
	require.ErrorContains(t, err, "epoch milliseconds")
}

func TestGeoPackageSourceValidation(t *testing.T) {
	_, err := NewSource(SourceParams{Layer: "cities"})
	require.ErrorContains(t, err, "file path")

	_, err = NewSource(SourceParams{Path: "a.gpkg"})
	require.ErrorContains(t, err, "layer name")

	_, err = NewSource(SourceParams{Path: "a.gpkg", Layer: "cities", TimeStart: "t_start"})
	require.ErrorContains(t, err, "both time columns or neither")
}

func TestBuildGeoPackageSourceFromDocument(t *testing.T) {
	params := json.RawMessage(`{"path": "a.gpkg", "layer": "cities"}`)
	op, err := BuildSource(params, nil)
	require.NoError(t, err)
	require.Equal(t, SourceTag, op.Name())
	require.Equal(t, workflow.KindVector, op.Kind())

	_, err = BuildSource(params, []engine.Operator{op})
	require.ErrorContains(t, err, "takes no sources")
}

func TestFeatureQuerySQL(t *testing.T) {
	p := &sourceProcessor{
		info: &layerInfo{table: "cities", geomColumn: "geom", orderBy: "fid"},
		schema: sqlcommon.RowSchema{
			HasTime: true,
			Columns: []sqlcommon.AttributeColumn{{Name: "name", Type: features.ColumnTypeText}},
		},
		timeStart: "t_start",
		timeEnd:   "t_end",
	}
	sqlText, args, err := p.featureQuery(testQueryRect()).ToSql()
	require.NoError(t, err)
	require.Equal(t,
		`SELECT "geom", "t_start", "t_end", "name" FROM "cities" `+
			`WHERE ("t_start" IS NULL OR "t_start" <= ?) AND ("t_end" IS NULL OR "t_end" >= ?) `+
			`ORDER BY "fid"`,
		sqlText)
	require.Equal(t, []any{int64(10), int64(0)}, args)
}

func TestDecodeGeometryBlob(t *testing.T) {
	point := geom.Point{1, -1}

	g, err := decodeGeometryBlob(gpkgBlob(t, point))
	require.NoError(t, err)
	require.Equal(t, point, g)

	g, err = decodeGeometryBlob(gpkgBlobWithEnvelope(t, point, 1, 1, -1, -1))
	require.NoError(t, err)
	require.Equal(t, point, g)

	g, err = decodeGeometryBlob(emptyGpkgBlob())
	require.NoError(t, err)
	require.Nil(t, g)
}

func TestDecodeGeometryBlobRejectsMalformed(t *testing.T) {
	_, err := decodeGeometryBlob([]byte{'G', 'P', 0})
	require.ErrorContains(t, err, "truncated")

	_, err = decodeGeometryBlob([]byte{'X', 'Y', 0, 0, 0, 0, 0, 0})
	require.ErrorContains(t, err, "GP magic")

	_, err = decodeGeometryBlob([]byte{'G', 'P', 1, 0, 0, 0, 0, 0})
	require.ErrorContains(t, err, "version")

	_, err = decodeGeometryBlob([]byte{'G', 'P', 0, 0x20, 0, 0, 0, 0})
	require.ErrorContains(t, err, "extended")

	_, err = decodeGeometryBlob([]byte{'G', 'P', 0, 0x0a, 0, 0, 0, 0})
	require.ErrorContains(t, err, "envelope contents indicator")

	// Header promises an envelope the blob does not contain.
	_, err = decodeGeometryBlob([]byte{'G', 'P', 0, 0x03, 0, 0, 0, 0})
	require.ErrorContains(t, err, "shorter")
}
