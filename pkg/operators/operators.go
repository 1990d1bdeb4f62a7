// Package operators assembles the built-in operator catalog. NewRegistry
// wires every shipped source, processing and plot operator under its type
// tag, and Reproject is the implicit reprojection factory that lets
// multi-source raster operators reconcile disagreeing reference systems.
package operators

import (
	"github.com/2younis/geoengine/pkg/engine"
	"github.com/2younis/geoengine/pkg/geo"
	"github.com/2younis/geoengine/pkg/operators/mock"
	"github.com/2younis/geoengine/pkg/operators/plot"
	"github.com/2younis/geoengine/pkg/operators/processing"
	"github.com/2younis/geoengine/pkg/operators/source/dataset"
	"github.com/2younis/geoengine/pkg/operators/source/gpkg"
	"github.com/2younis/geoengine/pkg/operators/source/postgres"
)

// NewRegistry returns a registry holding every built-in operator.
func NewRegistry() *engine.Registry {
	r := engine.NewRegistry()

	// Sources.
	r.MustRegister(mock.RasterSourceTag, mock.BuildRasterSource)
	r.MustRegister(mock.FeatureCollectionSourceTag, mock.BuildFeatureCollectionSource)
	r.MustRegister(dataset.SourceTag, dataset.BuildSource)
	r.MustRegister(gpkg.SourceTag, gpkg.BuildSource)
	r.MustRegister(postgres.SourceTag, postgres.BuildSource)

	// Processing.
	r.MustRegister(processing.ExpressionTag, processing.BuildExpression)
	r.MustRegister(processing.RasterScalingTag, processing.BuildRasterScaling)
	r.MustRegister(processing.ReprojectionTag, processing.BuildReprojection)
	r.MustRegister(processing.FeatureFilterTag, processing.BuildFeatureFilter)
	r.MustRegister(processing.RasterVectorJoinTag, processing.BuildRasterVectorJoin)

	// Plots.
	r.MustRegister(plot.HistogramTag, plot.BuildHistogram)

	return r
}

// Reproject wraps a raster source in a reprojection to the target reference
// system. Installed via engine.WithRasterReprojector, it lets operators with
// sources in different reference systems initialize.
func Reproject(target geo.SpatialReference, source engine.RasterOperator) (engine.RasterOperator, error) {
	return processing.NewRasterReprojection(target, source), nil
}
