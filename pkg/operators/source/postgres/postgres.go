// Package postgres reads features from a PostGIS table. The schema is
// declared in the operator parameters rather than discovered, so workflows
// validate without touching the database; the first query surfaces
// connectivity problems. The spatial filter is pushed down as an envelope
// intersection, exact filtering happens while scanning.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	sq "github.com/Masterminds/squirrel"
	_ "github.com/jackc/pgx/v5/stdlib" // PostgreSQL driver.

	"github.com/2younis/geoengine/internal/adapters"
	"github.com/2younis/geoengine/pkg/engine"
	"github.com/2younis/geoengine/pkg/features"
	"github.com/2younis/geoengine/pkg/geo"
	"github.com/2younis/geoengine/pkg/operators/source/sqlcommon"
)

// SourceTag is the registry type tag of the PostGIS source.
const SourceTag = "PostgresSource"

// SourceParams configure a PostGIS source. Columns maps attribute columns
// to their types; the optional time columns hold epoch milliseconds and are
// consumed into feature validity.
type SourceParams struct {
	URI       string                         `json:"uri"`
	Table     string                         `json:"table"`
	Geometry  string                         `json:"geometryColumn"`
	DataType  features.VectorDataType        `json:"dataType"`
	SRS       geo.SpatialReference           `json:"spatialReference"`
	Columns   map[string]features.ColumnType `json:"columns,omitempty"`
	TimeStart string                         `json:"timeStartColumn,omitempty"`
	TimeEnd   string                         `json:"timeEndColumn,omitempty"`
}

// Source streams one PostGIS table.
type Source struct {
	params SourceParams
}

// NewSource validates the declared schema and returns the operator.
func NewSource(params SourceParams) (*Source, error) {
	if params.URI == "" {
		return nil, fmt.Errorf("%s requires a connection uri", SourceTag)
	}
	if params.Table == "" {
		return nil, fmt.Errorf("%s requires a table name", SourceTag)
	}
	if params.Geometry == "" {
		return nil, fmt.Errorf("%s requires a geometry column", SourceTag)
	}
	if !params.DataType.IsValid() || params.DataType == features.VectorDataTypeData {
		return nil, fmt.Errorf("%s cannot serve %q data", SourceTag, params.DataType)
	}
	if params.SRS.IsZero() {
		return nil, fmt.Errorf("%s requires a spatial reference", SourceTag)
	}
	for name, columnType := range params.Columns {
		if !columnType.IsValid() {
			return nil, fmt.Errorf("column %q has unknown type %q", name, columnType)
		}
	}
	if (params.TimeStart == "") != (params.TimeEnd == "") {
		return nil, fmt.Errorf("%s needs both time columns or neither", SourceTag)
	}
	for _, name := range []string{params.TimeStart, params.TimeEnd} {
		if name == "" {
			continue
		}
		if _, declared := params.Columns[name]; declared {
			return nil, fmt.Errorf("column %q cannot be both attribute and time bound", name)
		}
	}
	return &Source{params: params}, nil
}

// BuildSource is the registry build function for PostgresSource.
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

// Name implements engine.VectorOperator.
func (s *Source) Name() string { return SourceTag }

// InitializeVector implements engine.VectorOperator.
func (s *Source) InitializeVector(_ context.Context, _ *engine.ExecutionContext) (engine.InitializedVectorOperator, error) {
	names := make([]string, 0, len(s.params.Columns))
	for name := range s.params.Columns {
		names = append(names, name)
	}
	sort.Strings(names)
	attrs := make([]sqlcommon.AttributeColumn, 0, len(names))
	for _, name := range names {
		attrs = append(attrs, sqlcommon.AttributeColumn{Name: name, Type: s.params.Columns[name]})
	}

	schema := sqlcommon.RowSchema{
		DataType: s.params.DataType,
		SRS:      s.params.SRS,
		Columns:  attrs,
		HasTime:  s.params.TimeStart != "",
	}
	return &initializedSource{
		descriptor: engine.VectorResultDescriptor{
			DataType: s.params.DataType,
			SRS:      s.params.SRS,
			Columns:  schema.ColumnTypes(),
		},
		params: s.params,
		schema: schema,
	}, nil
}

type initializedSource struct {
	descriptor engine.VectorResultDescriptor
	params     SourceParams
	schema     sqlcommon.RowSchema
}

func (s *initializedSource) ResultDescriptor() engine.VectorResultDescriptor {
	return s.descriptor
}

func (s *initializedSource) QueryProcessor() (engine.VectorQueryProcessor, error) {
	return &sourceProcessor{params: s.params, schema: s.schema}, nil
}

type sourceProcessor struct {
	params SourceParams
	schema sqlcommon.RowSchema
}

// VectorQuery implements engine.VectorQueryProcessor. Each query opens its
// own connection; the stream closes it when it ends.
func (p *sourceProcessor) VectorQuery(ctx context.Context, rect geo.QueryRectangle, qctx *engine.QueryContext) (engine.CollectionIterator, error) {
	db, err := sql.Open("pgx", p.params.URI)
	if err != nil {
		return nil, engine.NewIoError("connecting to postgres", err)
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

// featureQuery builds the row query: the geometry as well-known binary, the
// optional time bounds and the attributes in schema order. The envelope
// intersection uses the geometry index; rows whose validity cannot
// intersect the query time are excluded up front.
func (p *sourceProcessor) featureQuery(rect geo.QueryRectangle) sq.SelectBuilder {
	columns := []string{fmt.Sprintf("ST_AsBinary(%s)", quoteIdent(p.params.Geometry))}
	if p.schema.HasTime {
		columns = append(columns, quoteIdent(p.params.TimeStart), quoteIdent(p.params.TimeEnd))
	}
	for _, col := range p.schema.Columns {
		columns = append(columns, quoteIdent(col.Name))
	}

	bbox := rect.BBox()
	q := sq.StatementBuilder.PlaceholderFormat(sq.Dollar).
		Select(columns...).
		From(quoteIdent(p.params.Table)).
		Where(sq.Expr(
			quoteIdent(p.params.Geometry)+" && ST_MakeEnvelope(?, ?, ?, ?, ?)",
			bbox.LowerLeft().X, bbox.LowerLeft().Y, bbox.UpperRight().X, bbox.UpperRight().Y,
			int(p.params.SRS.Code()),
		))
	if p.schema.HasTime {
		start, end := quoteIdent(p.params.TimeStart), quoteIdent(p.params.TimeEnd)
		q = q.
			Where(sq.Or{sq.Eq{start: nil}, sq.LtOrEq{start: int64(rect.Time().End)}}).
			Where(sq.Or{sq.Eq{end: nil}, sq.GtOrEq{end: int64(rect.Time().Start)}})
	}
	return q
}

// quoteIdent quotes an SQL identifier taken from the operator parameters.
func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
