// Package gpkg reads feature layers from GeoPackage files. Layer geometry,
// reference system and attribute schema come from the package's own metadata
// tables; features stream as collection chunks filtered by the query
// rectangle. An optional pair of integer columns bounds each feature's
// validity in epoch milliseconds.
package gpkg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"

	sq "github.com/Masterminds/squirrel"
	_ "modernc.org/sqlite" // SQLite driver.

	"github.com/2younis/geoengine/internal/adapters"
	"github.com/2younis/geoengine/pkg/engine"
	"github.com/2younis/geoengine/pkg/features"
	"github.com/2younis/geoengine/pkg/geo"
	"github.com/2younis/geoengine/pkg/operators/source/sqlcommon"
)

// SourceTag is the registry type tag of the GeoPackage source.
const SourceTag = "GeoPackageSource"

// SourceParams configure a GeoPackage source: the file, the feature layer
// and optionally the two columns holding each feature's validity bounds.
type SourceParams struct {
	Path      string `json:"path"`
	Layer     string `json:"layer"`
	TimeStart string `json:"timeStartColumn,omitempty"`
	TimeEnd   string `json:"timeEndColumn,omitempty"`
}

// Source streams one feature layer of a GeoPackage file.
type Source struct {
	params SourceParams
}

// NewSource validates the parameters and returns the operator. The file is
// first touched at initialization.
func NewSource(params SourceParams) (*Source, error) {
	if params.Path == "" {
		return nil, fmt.Errorf("%s requires a file path", SourceTag)
	}
	if params.Layer == "" {
		return nil, fmt.Errorf("%s requires a layer name", SourceTag)
	}
	if (params.TimeStart == "") != (params.TimeEnd == "") {
		return nil, fmt.Errorf("%s needs both time columns or neither", SourceTag)
	}
	return &Source{params: params}, nil
}

// BuildSource is the registry build function for GeoPackageSource.
func BuildSource(params json.RawMessage, sources []engine.Operator) (engine.Operator, error) {
	if len(sources) != 0 {
		return engine.Operator{}, fmt.Errorf("%s takes no sources, got %d", SourceTag, len(sources))
	}
	var p SourceParams
	if err := engine.DecodeParams(params, &p); err != nil {
		return engine.Operator{}, err
	}
	op, err := NewSource(p)
	if err != nil {
		return engine.Operator{}, err
	}
	return engine.NewVectorNode(op), nil
}

// PrepareDSN derives the connection string: the file is opened read-only
// with a busy timeout, leaving journal settings to whoever writes it.
func PrepareDSN(path string) string {
	query := url.Values{}
	query.Set("mode", "ro")
	query.Add("_pragma", "busy_timeout(100)")
	return "file:" + path + "?" + query.Encode()
}

// Name implements engine.VectorOperator.
func (s *Source) Name() string { return SourceTag }

// InitializeVector implements engine.VectorOperator. It reads the layer's
// entry in gpkg_contents and gpkg_geometry_columns and discovers the
// attribute schema from the table itself.
func (s *Source) InitializeVector(ctx context.Context, _ *engine.ExecutionContext) (engine.InitializedVectorOperator, error) {
	dsn := PrepareDSN(s.params.Path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, engine.NewInitializationError(SourceTag, err)
	}
	defer func() { _ = db.Close() }()

	info, err := describeLayer(ctx, db, s.params.Layer)
	if err != nil {
		return nil, engine.NewInitializationError(SourceTag, err)
	}

	hasTime := s.params.TimeStart != ""
	if hasTime {
		for _, name := range []string{s.params.TimeStart, s.params.TimeEnd} {
			declared, ok := info.declared[name]
			if !ok {
				return nil, engine.NewInitializationError(SourceTag,
					fmt.Errorf("layer %q has no column %q", s.params.Layer, name))
			}
			if columnType, ok := sqlcommon.ColumnTypeForSQLType(declared); !ok || columnType != features.ColumnTypeInt {
				return nil, engine.NewInitializationError(SourceTag,
					fmt.Errorf("time column %q must hold epoch milliseconds, not %s", name, declared))
			}
		}
	}

	// Time columns are consumed into feature validity, not exposed.
	attrs := make([]sqlcommon.AttributeColumn, 0, len(info.columns))
	for _, col := range info.columns {
		if col.Name == s.params.TimeStart || col.Name == s.params.TimeEnd {
			continue
		}
		attrs = append(attrs, col)
	}

	schema := sqlcommon.RowSchema{
		DataType: info.dataType,
		SRS:      info.srs,
		Columns:  attrs,
		HasTime:  hasTime,
		Geometry: decodeGeometryBlob,
	}
	return &initializedSource{
		descriptor: engine.VectorResultDescriptor{
			DataType: info.dataType,
			SRS:      info.srs,
			Columns:  schema.ColumnTypes(),
		},
		dsn:       dsn,
		info:      info,
		schema:    schema,
		timeStart: s.params.TimeStart,
		timeEnd:   s.params.TimeEnd,
	}, nil
}

// layerInfo is what the package's metadata tables say about one feature
// layer.
type layerInfo struct {
	table      string
	geomColumn string
	dataType   features.VectorDataType
	srs        geo.SpatialReference
	orderBy    string
	columns    []sqlcommon.AttributeColumn
	declared   map[string]string
}

func describeLayer(ctx context.Context, db *sql.DB, layer string) (*layerInfo, error) {
	row := sq.
		Select("g.column_name", "g.geometry_type_name", "g.srs_id").
		From("gpkg_contents c").
		Join("gpkg_geometry_columns g ON g.table_name = c.table_name").
		Where(sq.Eq{"c.table_name": layer, "c.data_type": "features"}).
		RunWith(db).
		QueryRowContext(ctx)

	var geomColumn, geometryType string
	var srsID int64
	if err := row.Scan(&geomColumn, &geometryType, &srsID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("feature layer %q: %w", layer, engine.ErrDatasetNotFound)
		}
		return nil, engine.NewIoError("reading layer metadata", err)
	}
	dataType, err := sqlcommon.VectorDataTypeForGeometry(geometryType)
	if err != nil {
		return nil, fmt.Errorf("layer %q: %w", layer, err)
	}
	if srsID <= 0 {
		return nil, fmt.Errorf("layer %q has no usable spatial reference, srs id %d", layer, srsID)
	}
	srs, err := geo.NewSpatialReference(geo.AuthorityEpsg, uint32(srsID))
	if err != nil {
		return nil, fmt.Errorf("layer %q: %w", layer, err)
	}

	info := &layerInfo{
		table:      layer,
		geomColumn: geomColumn,
		dataType:   dataType,
		srs:        srs,
		orderBy:    "rowid",
		declared:   make(map[string]string),
	}

	rows, err := db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", quoteIdent(layer)))
	if err != nil {
		return nil, engine.NewIoError("reading layer schema", err)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var cid, notNull, pk int
		var name, declaredType string
		var dflt sql.NullString
		if err := rows.Scan(&cid, &name, &declaredType, &notNull, &dflt, &pk); err != nil {
			return nil, engine.NewIoError("reading layer schema", err)
		}
		info.declared[name] = declaredType
		if pk > 0 {
			info.orderBy = name
			continue
		}
		if name == geomColumn {
			continue
		}
		columnType, ok := sqlcommon.ColumnTypeForSQLType(declaredType)
		if !ok {
			continue
		}
		info.columns = append(info.columns, sqlcommon.AttributeColumn{Name: name, Type: columnType})
	}
	if err := rows.Err(); err != nil {
		return nil, engine.NewIoError("reading layer schema", err)
	}
	return info, nil
}

// quoteIdent quotes an SQL identifier discovered from the file itself.
func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

type initializedSource struct {
	descriptor engine.VectorResultDescriptor
	dsn        string
	info       *layerInfo
	schema     sqlcommon.RowSchema
	timeStart  string
	timeEnd    string
}

func (s *initializedSource) ResultDescriptor() engine.VectorResultDescriptor {
	return s.descriptor
}

func (s *initializedSource) QueryProcessor() (engine.VectorQueryProcessor, error) {
	return &sourceProcessor{
		dsn:       s.dsn,
		info:      s.info,
		schema:    s.schema,
		timeStart: s.timeStart,
		timeEnd:   s.timeEnd,
	}, nil
}

type sourceProcessor struct {
	dsn       string
	info      *layerInfo
	schema    sqlcommon.RowSchema
	timeStart string
	timeEnd   string
}

// VectorQuery implements engine.VectorQueryProcessor. Each query opens its
// own connection; the stream closes it when it ends.
func (p *sourceProcessor) VectorQuery(ctx context.Context, rect geo.QueryRectangle, qctx *engine.QueryContext) (engine.CollectionIterator, error) {
	db, err := sql.Open("sqlite", p.dsn)
	if err != nil {
		return nil, engine.NewIoError("opening geopackage", err)
	}
	// One streaming cursor reads the rows.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	rows, err := p.featureQuery(rect).RunWith(db).QueryContext(ctx)
	if err != nil {
		_ = db.Close()
		return nil, engine.NewIoError("querying features", err)
	}
	stream := sqlcommon.NewRowStream(rows, p.schema, rect, 0, SourceTag, db.Close)
	return adapters.NewChunkMerger(stream, qctx.ChunkByteSize()), nil
}

// featureQuery builds the row query: the geometry, the optional time bounds
// and the attributes, keeping rows whose validity can intersect the query
// time. Exact window filtering happens while scanning; the spatial filter is
// applied to the decoded geometries.
func (p *sourceProcessor) featureQuery(rect geo.QueryRectangle) sq.SelectBuilder {
	columns := []string{quoteIdent(p.info.geomColumn)}
	if p.schema.HasTime {
		columns = append(columns, quoteIdent(p.timeStart), quoteIdent(p.timeEnd))
	}
	for _, col := range p.schema.Columns {
		columns = append(columns, quoteIdent(col.Name))
	}
	q := sq.Select(columns...).
		From(quoteIdent(p.info.table)).
		OrderBy(quoteIdent(p.info.orderBy))
	if p.schema.HasTime {
		start, end := quoteIdent(p.timeStart), quoteIdent(p.timeEnd)
		q = q.
			Where(sq.Or{sq.Eq{start: nil}, sq.LtOrEq{start: int64(rect.Time().End)}}).
			Where(sq.Or{sq.Eq{end: nil}, sq.GtOrEq{end: int64(rect.Time().Start)}})
	}
	return q
}
