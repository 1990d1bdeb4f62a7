package sqlcommon

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"github.com/go-spatial/geom"
	"github.com/go-spatial/geom/encoding/wkb"

	"github.com/2younis/geoengine/pkg/engine"
	"github.com/2younis/geoengine/pkg/features"
	"github.com/2younis/geoengine/pkg/geo"
)

// DefaultBatchRows is the number of rows collected into one chunk before it
// is handed downstream. Chunks are merged up to the query's byte budget by
// the caller.
const DefaultBatchRows = 256

// RowStream adapts feature query rows to a collection iterator. Rows are
// scanned lazily in batches; geometries are decoded and tested against the
// query rectangle, features without geometry are skipped. A query matching
// no rows still yields one empty collection carrying the schema.
type RowStream struct {
	rows    *sql.Rows
	schema  RowSchema
	rect    geo.QueryRectangle
	batch   int
	tag     string
	cleanup func() error

	emitted  bool
	done     bool
	err      error
	stopOnce sync.Once
}

// NewRowStream wraps rows in a collection iterator. The rows must start with
// the geometry column, followed by the time bounds when the schema declares
// them, followed by the attribute columns in schema order. cleanup runs
// exactly once when the stream ends, fails or is stopped; it owns closing
// the connection behind the rows.
func NewRowStream(rows *sql.Rows, schema RowSchema, rect geo.QueryRectangle, batchRows int, tag string, cleanup func() error) *RowStream {
	if batchRows <= 0 {
		batchRows = DefaultBatchRows
	}
	return &RowStream{rows: rows, schema: schema, rect: rect, batch: batchRows, tag: tag, cleanup: cleanup}
}

// Next implements engine.Iterator.
func (s *RowStream) Next(ctx context.Context) (*features.Collection, error) {
	if s.err != nil {
		return nil, s.err
	}
	if s.done {
		return s.fail(engine.ErrIteratorDone)
	}

	builder := features.NewCollectionBuilder(s.schema.DataType, s.schema.SRS)
	for _, col := range s.schema.Columns {
		builder.AddColumn(col.Name, col.Type)
	}

	count := 0
	for count < s.batch {
		if err := ctx.Err(); err != nil {
			return s.fail(err)
		}
		if !s.rows.Next() {
			if err := s.rows.Err(); err != nil {
				return s.fail(engine.NewIoError("reading feature rows", err))
			}
			s.done = true
			s.release()
			break
		}
		appended, err := s.scanInto(builder)
		if err != nil {
			return s.fail(err)
		}
		if appended {
			count++
		}
	}

	if count == 0 && s.emitted {
		return s.fail(engine.ErrIteratorDone)
	}
	chunk, err := builder.Build()
	if err != nil {
		return s.fail(err)
	}
	s.emitted = true
	return chunk, nil
}

// Stop implements engine.Iterator.
func (s *RowStream) Stop() {
	if s.err == nil {
		s.err = engine.ErrIteratorDone
	}
	s.release()
}

func (s *RowStream) fail(err error) (*features.Collection, error) {
	s.err = err
	s.release()
	return nil, err
}

func (s *RowStream) release() {
	s.stopOnce.Do(func() {
		_ = s.rows.Close()
		if s.cleanup != nil {
			_ = s.cleanup()
		}
	})
}

// scanInto decodes the current row and appends it to the builder when it
// intersects the query window. It reports whether a feature was appended.
func (s *RowStream) scanInto(builder *features.CollectionBuilder) (bool, error) {
	var geomRaw []byte
	var start, end sql.NullInt64
	holders := make([]attrHolder, len(s.schema.Columns))

	dest := make([]any, 0, len(s.schema.Columns)+3)
	dest = append(dest, &geomRaw)
	if s.schema.HasTime {
		dest = append(dest, &start, &end)
	}
	for i, col := range s.schema.Columns {
		holders[i].columnType = col.Type
		dest = append(dest, holders[i].target())
	}
	if err := s.rows.Scan(dest...); err != nil {
		return false, engine.NewIoError("scanning feature row", err)
	}

	if len(geomRaw) == 0 {
		// A null geometry cannot intersect anything.
		return false, nil
	}
	g, err := s.decodeGeometry(geomRaw)
	if err != nil {
		return false, fmt.Errorf("%s: decoding feature geometry: %w", s.tag, err)
	}
	if g == nil {
		return false, nil
	}

	time := geo.MaxTimeInterval
	if s.schema.HasTime {
		time, err = timeFromBounds(start, end)
		if err != nil {
			return false, fmt.Errorf("%s: %w", s.tag, err)
		}
	}
	if !time.Intersects(s.rect.Time()) {
		return false, nil
	}
	if !GeometryInBBox(g, s.rect.BBox()) {
		return false, nil
	}

	values := make(map[string]any, len(s.schema.Columns))
	for i, col := range s.schema.Columns {
		values[col.Name] = holders[i].value()
	}
	builder.AppendFeature(g, time, values)
	return true, nil
}

func (s *RowStream) decodeGeometry(raw []byte) (geom.Geometry, error) {
	var g geom.Geometry
	var err error
	if s.schema.Geometry != nil {
		g, err = s.schema.Geometry(raw)
	} else {
		g, err = wkb.DecodeBytes(raw)
	}
	if err != nil || g == nil {
		return nil, err
	}
	return features.NormalizeGeometry(s.schema.DataType, g)
}

// timeFromBounds builds the validity interval from nullable instants. A null
// start or end extends to the respective bound of representable time.
func timeFromBounds(start, end sql.NullInt64) (geo.TimeInterval, error) {
	interval := geo.MaxTimeInterval
	if start.Valid {
		interval.Start = geo.TimeInstance(start.Int64)
	}
	if end.Valid {
		interval.End = geo.TimeInstance(end.Int64)
	}
	return geo.NewTimeInterval(interval.Start, interval.End)
}

// attrHolder receives one attribute value of the row being scanned.
type attrHolder struct {
	columnType features.ColumnType
	intValue   sql.NullInt64
	floatValue sql.NullFloat64
	textValue  sql.NullString
}

func (h *attrHolder) target() any {
	switch h.columnType {
	case features.ColumnTypeInt:
		return &h.intValue
	case features.ColumnTypeFloat:
		return &h.floatValue
	default:
		return &h.textValue
	}
}

func (h *attrHolder) value() any {
	switch h.columnType {
	case features.ColumnTypeInt:
		if h.intValue.Valid {
			return h.intValue.Int64
		}
	case features.ColumnTypeFloat:
		if h.floatValue.Valid {
			return h.floatValue.Float64
		}
	case features.ColumnTypeText:
		if h.textValue.Valid {
			return h.textValue.String
		}
	}
	return nil
}
