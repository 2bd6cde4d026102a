package services

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-risk/pkg/riskinput"
	"github.com/ekaya-inc/ekaya-risk/pkg/services/workqueue"
)

// OutputSink consumes the records of risk tasks. Implementations must be
// safe for concurrent use when tasks run in parallel.
type OutputSink interface {
	Consume(ctx context.Context, record *OutputRecord) error
}

// RiskTask drains the outputs of one risk input into a sink.
type RiskTask struct {
	workqueue.BaseTask
	input     riskinput.Input
	generator OutputGenerator
	sink      OutputSink
	logger    *zap.Logger
}

// NewRiskTask creates a task for input.
func NewRiskTask(input riskinput.Input, generator OutputGenerator, sink OutputSink, logger *zap.Logger) *RiskTask {
	return &RiskTask{
		BaseTask:  workqueue.NewBaseTask(input.String(), input.RequiresGMF(), input.Weight()),
		input:     input,
		generator: generator,
		sink:      sink,
		logger:    logger,
	}
}

var _ workqueue.Task = (*RiskTask)(nil)

// Execute implements workqueue.Task.
func (t *RiskTask) Execute(ctx context.Context, _ workqueue.TaskEnqueuer) error {
	it, err := t.generator.Generate(ctx, t.input)
	if err != nil {
		return err
	}
	records := 0
	for it.Next() {
		if err := t.sink.Consume(ctx, it.Record()); err != nil {
			return fmt.Errorf("failed to consume output of %s: %w", t.input, err)
		}
		records++
	}
	if err := it.Err(); err != nil {
		return err
	}
	t.logger.Debug("Risk task finished",
		zap.String("task_id", t.ID()),
		zap.String("input", t.Name()),
		zap.Int("records", records),
		zap.Int64("gmf_bytes", it.GMFBytes()))
	return nil
}
