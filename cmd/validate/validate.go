// Package validate contains the command to check workflow documents without
// executing them.
package validate

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/2younis/geoengine/pkg/engine"
	"github.com/2younis/geoengine/pkg/logger"
	"github.com/2younis/geoengine/pkg/operators"
	"github.com/2younis/geoengine/pkg/workflow"
)

const catalogFlag = "catalog"

// NewValidateCommand returns the cobra command that parses workflow
// documents, builds their operator graphs and initializes them, without
// running a query.
func NewValidateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <workflow>...",
		Short: "Validate workflow documents without executing them",
		Long: "Parse each workflow document, build its operator graph and initialize it.\n" +
			"Initialization resolves dataset identifiers, checks that operator inputs agree\n" +
			"and reports the result descriptor each workflow would produce.",
		RunE: runValidate,
		Args: cobra.MinimumNArgs(1),
	}

	flags := cmd.Flags()
	flags.String(catalogFlag, "", "the dataset catalog resolving dataset identifiers")

	cmd.PreRun = bindValidateFlagsFunc(flags)

	return cmd
}

type validationResult struct {
	Workflow   string          `json:"workflow"`
	Kind       string          `json:"kind,omitempty"`
	Valid      bool            `json:"valid"`
	Descriptor json.RawMessage `json:"descriptor,omitempty"`
	Error      string          `json:"error,omitempty"`
}

func runValidate(_ *cobra.Command, args []string) error {
	ctx := context.Background()

	opts := []engine.ExecutionContextOption{
		engine.WithLogger(logger.NewNoopLogger()),
		engine.WithRasterReprojector(operators.Reproject),
	}
	if location := viper.GetString(catalogFlag); location != "" {
		data, err := os.ReadFile(location)
		if err != nil {
			return fmt.Errorf("reading catalog %s: %w", location, err)
		}
		catalog, err := engine.ParseStaticCatalog(data)
		if err != nil {
			return fmt.Errorf("parsing catalog %s: %w", location, err)
		}
		opts = append(opts, engine.WithMetadataProvider(catalog))
	}

	ectx, err := engine.NewExecutionContext(opts...)
	if err != nil {
		return err
	}
	defer func() { _ = ectx.Close() }()

	registry := operators.NewRegistry()

	results := make([]validationResult, 0, len(args))
	for _, path := range args {
		results = append(results, validateWorkflow(ctx, registry, ectx, path))
	}

	marshalled, err := json.MarshalIndent(results, "", "  ")
	if err != nil {
		return fmt.Errorf("error gathering validation results: %w", err)
	}
	fmt.Println(string(marshalled))

	return nil
}

// validateWorkflow parses one document, builds its operator graph and
// initializes it against the execution context.
func validateWorkflow(ctx context.Context, registry *engine.Registry, ectx *engine.ExecutionContext, path string) validationResult {
	result := validationResult{Workflow: path}

	doc, err := os.ReadFile(path)
	if err != nil {
		result.Error = err.Error()
		return result
	}
	w, err := workflow.Parse(doc)
	if err != nil {
		result.Error = err.Error()
		return result
	}
	result.Kind = string(w.Kind)

	op, err := registry.Build(w.Operator)
	if err != nil {
		result.Error = err.Error()
		return result
	}
	if op.Kind() != w.Kind {
		result.Error = fmt.Sprintf("workflow declares kind %s but the root operator produces %s", w.Kind, op.Kind())
		return result
	}

	descriptor, err := initializedDescriptor(ctx, ectx, op)
	if err != nil {
		result.Error = err.Error()
		return result
	}

	result.Valid = true
	result.Descriptor = descriptor
	return result
}

// initializedDescriptor initializes the graph and serializes the result
// descriptor it reports.
func initializedDescriptor(ctx context.Context, ectx *engine.ExecutionContext, op engine.Operator) (json.RawMessage, error) {
	switch op.Kind() {
	case workflow.KindRaster:
		rasterOp, err := op.Raster()
		if err != nil {
			return nil, err
		}
		init, err := engine.InitializeRaster(ctx, ectx, rasterOp)
		if err != nil {
			return nil, err
		}
		return json.Marshal(init.ResultDescriptor())
	case workflow.KindVector:
		vectorOp, err := op.Vector()
		if err != nil {
			return nil, err
		}
		init, err := engine.InitializeVector(ctx, ectx, vectorOp)
		if err != nil {
			return nil, err
		}
		return json.Marshal(init.ResultDescriptor())
	case workflow.KindPlot:
		plotOp, err := op.Plot()
		if err != nil {
			return nil, err
		}
		init, err := engine.InitializePlot(ctx, ectx, plotOp)
		if err != nil {
			return nil, err
		}
		return json.Marshal(init.ResultDescriptor())
	default:
		return nil, fmt.Errorf("unknown workflow kind %q", op.Kind())
	}
}
