package services

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-risk/pkg/config"
	"github.com/ekaya-inc/ekaya-risk/pkg/models"
	"github.com/ekaya-inc/ekaya-risk/pkg/monitor"
	"github.com/ekaya-inc/ekaya-risk/pkg/riskinput"
	"github.com/ekaya-inc/ekaya-risk/pkg/riskmodel"
	"github.com/ekaya-inc/ekaya-risk/pkg/services/workqueue"
)

// Engine wires the risk core from the configuration: an input builder over
// the asset collection, the output generator with its metrics and a
// calculator bounded by the workers section.
type Engine struct {
	inputs     *riskinput.Builder
	monitor    *monitor.Monitor
	calculator Calculator
	logger     *zap.Logger
}

// NewEngine registers the metrics on reg under the configured namespace.
func NewEngine(cfg *config.Config, registry *riskmodel.CompositeRiskModel, assetsBySite [][]*models.Asset,
	reg prometheus.Registerer, logger *zap.Logger,
) *Engine {
	mon := monitor.New(cfg.Metrics.Namespace, reg)
	generator := NewOutputGenerator(registry, mon, logger)
	return &Engine{
		inputs:     riskinput.NewBuilder(cfg, registry, assetsBySite, logger),
		monitor:    mon,
		calculator: NewCalculator(generator, cfg.Workers, logger),
		logger:     logger.Named("engine"),
	}
}

// Inputs returns the builder of the risk inputs.
func (e *Engine) Inputs() *riskinput.Builder {
	return e.inputs
}

// Run computes the inputs and feeds their records to sink.
func (e *Engine) Run(ctx context.Context, inputs []riskinput.Input, sink OutputSink) (workqueue.Progress, error) {
	return e.calculator.Run(ctx, inputs, sink)
}
