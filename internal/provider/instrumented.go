package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/pitabwire/listctl/internal/observability"
	"github.com/pitabwire/listctl/model"
)

// Instrumented decorates a DataProvider with a trace span and a log line
// per call.
type Instrumented struct {
	next   model.DataProvider
	name   string
	logger *zap.Logger
}

// Instrument wraps next. name identifies the provider in spans and logs.
func Instrument(next model.DataProvider, name string, logger *zap.Logger) *Instrumented {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Instrumented{next: next, name: name, logger: logger.With(zap.String("provider", name))}
}

// GetList implements model.DataProvider.
func (p *Instrumented) GetList(ctx context.Context, resource string, params model.GetListParams) (model.GetListResult, error) {
	ctx, span := observability.StartSpan(ctx, "provider."+p.name+".GetList",
		observability.AttrResource.String(resource),
		observability.AttrPage.Int(params.Pagination.Page),
		observability.AttrPerPage.Int(params.Pagination.PerPage),
	)
	start := time.Now()
	res, err := p.next.GetList(ctx, resource, params)
	observability.EndSpanWithError(span, err)

	logger := observability.LoggerFrom(ctx, p.logger)
	if err != nil {
		logger.Warn("provider call failed",
			zap.String("resource", resource),
			zap.Duration("duration", time.Since(start)),
			zap.Error(err))
		return res, err
	}
	logger.Debug("provider call",
		zap.String("resource", resource),
		zap.Int("page", params.Pagination.Page),
		zap.Int("records", len(res.Data)),
		zap.Duration("duration", time.Since(start)))
	return res, nil
}

// HealthCheck delegates to the wrapped provider when it can report health.
func (p *Instrumented) HealthCheck(ctx context.Context) error {
	if hc, ok := p.next.(observability.HealthChecker); ok {
		return hc.HealthCheck(ctx)
	}
	return nil
}

// LoadFixtures reads a JSON document mapping resource names to record
// arrays and serves it from memory.
func LoadFixtures(path string) (*Memory, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("provider: open fixtures: %w", err)
	}
	defer f.Close()

	dec := json.NewDecoder(f)
	dec.UseNumber()
	var data map[string][]model.Record
	if err := dec.Decode(&data); err != nil {
		return nil, fmt.Errorf("provider: decode fixtures %s: %w", path, err)
	}
	return NewMemory(data), nil
}
