package services

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-risk/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-risk/pkg/config"
	"github.com/ekaya-inc/ekaya-risk/pkg/riskinput"
	"github.com/ekaya-inc/ekaya-risk/pkg/services/workqueue"
)

// Calculator runs a set of risk inputs to completion.
type Calculator interface {
	// Run executes one task per input and feeds every record to sink. It
	// stops at the first failing task and returns its error.
	Run(ctx context.Context, inputs []riskinput.Input, sink OutputSink) (workqueue.Progress, error)
}

type calculator struct {
	generator OutputGenerator
	workers   config.WorkersConfig
	logger    *zap.Logger
}

// NewCalculator creates a calculator bounded by the workers configuration.
func NewCalculator(generator OutputGenerator, workers config.WorkersConfig, logger *zap.Logger) Calculator {
	return &calculator{
		generator: generator,
		workers:   workers,
		logger:    logger.Named("calculator"),
	}
}

var _ Calculator = (*calculator)(nil)

func (c *calculator) Run(ctx context.Context, inputs []riskinput.Input, sink OutputSink) (workqueue.Progress, error) {
	if len(inputs) == 0 {
		return workqueue.Progress{}, fmt.Errorf("%w: no risk inputs", apperrors.ErrEmptyInput)
	}

	strategy := workqueue.NewThrottledGMFStrategy(c.workers.MaxConcurrentRuptureTasks, c.workers.MaxConcurrentCurveTasks)
	q := workqueue.New(c.logger, workqueue.WithStrategy(strategy), workqueue.WithContext(ctx))
	q.FailFast()
	defer q.Close()

	var totalWeight float64
	for _, input := range inputs {
		totalWeight += input.Weight()
		q.Enqueue(NewRiskTask(input, c.generator, sink, c.logger))
	}
	c.logger.Info("Risk tasks submitted",
		zap.Int("tasks", len(inputs)),
		zap.Float64("total_weight", totalWeight))

	err := q.Wait(ctx)
	if err == nil {
		err = ctx.Err()
	}
	progress := q.Progress()
	if err != nil {
		c.logger.Error("Risk calculation failed",
			zap.Int("completed", progress.Completed),
			zap.Int("failed", progress.Failed),
			zap.Int("cancelled", progress.Cancelled),
			zap.Error(err))
		return progress, err
	}
	c.logger.Info("Risk calculation completed",
		zap.Int("completed", progress.Completed),
		zap.Int("percentage", progress.Percentage()))
	return progress, nil
}
