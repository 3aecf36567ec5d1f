// ABOUTME: Schema extraction through sandboxed introspection of package exports.
// ABOUTME: Only the default sandbox is ever asked to load untrusted package code.

package catalog

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/2389/toolshed/internal/executor"
	"github.com/2389/toolshed/internal/schema"
)

// Introspector loads a package export in the sandbox and describes it.
type Introspector interface {
	Introspect(ctx context.Context, req executor.IntrospectRequest) (*executor.Description, error)
}

// Extractor obtains input schemas from the sandbox.
type Extractor struct {
	sandbox Introspector
	logger  *slog.Logger
}

// NewExtractor creates an Extractor.
func NewExtractor(sandbox Introspector, logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{
		sandbox: sandbox,
		logger:  logger.With("component", "extractor"),
	}
}

// ExtractSchema introspects packageName/exportName at version. A description
// whose schema is not an object schema is rejected as an invalid response.
func (e *Extractor) ExtractSchema(ctx context.Context, packageName, exportName, version string) (*executor.Description, error) {
	desc, err := e.sandbox.Introspect(ctx, executor.IntrospectRequest{
		PackageName: packageName,
		ExportName:  exportName,
		Version:     version,
	})
	if err != nil {
		e.logger.Debug("introspection failed",
			"package", packageName,
			"export", exportName,
			"kind", executor.KindOf(err),
			"error", err,
		)
		return nil, fmt.Errorf("extracting %s/%s: %w", packageName, exportName, err)
	}

	if len(desc.InputSchema) == 0 {
		return nil, &executor.Error{Kind: executor.KindInvalidResponse, Op: "introspect", Message: "sandbox returned no input schema"}
	}
	if _, err := schema.Parse(desc.InputSchema); err != nil {
		return nil, &executor.Error{Kind: executor.KindInvalidResponse, Op: "introspect", Err: err}
	}
	return desc, nil
}
