// Package trainer runs the optimization and evaluation loops of one
// experiment and persists model checkpoints.
package trainer

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/forge-ml/forge/internal/datamodule"
	"github.com/forge-ml/forge/internal/metrics"
	"github.com/forge-ml/forge/internal/nn"
	"github.com/forge-ml/forge/internal/optim"
	"github.com/forge-ml/forge/internal/output"
	"github.com/forge-ml/forge/internal/plotting"
)

// Options configures a Trainer.
type Options struct {
	// MaxEpochs bounds training by full passes over the train subset.
	MaxEpochs int
	// MaxSteps, when positive, bounds training by optimizer steps instead
	// and overrides MaxEpochs.
	MaxSteps int
	// ValCheckInterval runs validation every n-th epoch; zero disables
	// validation.
	ValCheckInterval int
	// SavePath, when non-empty, is where the trained model checkpoint is
	// written after Fit.
	SavePath string
	// ImageFormat is the plot encoding, "png" or "svg".
	ImageFormat string
}

// Trainer drives the train/validate/test loops over a model, a data module
// and an output router.
type Trainer struct {
	opts   Options
	model  nn.Trainable
	optim  optim.Optimizer
	data   *datamodule.DataModule
	router *output.Router
	log    zerolog.Logger

	agg        *metrics.Aggregator
	globalStep int
}

// New validates the options and assembles a Trainer.
func New(opts Options, model nn.Trainable, opt optim.Optimizer, data *datamodule.DataModule,
	router *output.Router, log zerolog.Logger) (*Trainer, error) {
	if opts.MaxEpochs < 1 && opts.MaxSteps < 1 {
		return nil, fmt.Errorf("trainer: either max epochs or max steps must be positive")
	}
	if opts.ImageFormat == "" {
		opts.ImageFormat = "png"
	}
	return &Trainer{
		opts:   opts,
		model:  model,
		optim:  opt,
		data:   data,
		router: router,
		log:    log,
	}, nil
}

// GlobalStep returns the number of optimizer steps taken so far.
func (t *Trainer) GlobalStep() int { return t.globalStep }

// Fit runs the training loop: per-batch backward passes and optimizer steps,
// with validation every ValCheckInterval epochs. Training stops after
// MaxEpochs epochs, or after MaxSteps optimizer steps when that is set.
func (t *Trainer) Fit(ctx context.Context) error {
	if err := t.prepare(ctx, datamodule.StageFit); err != nil {
		return err
	}

	maxEpochs := t.opts.MaxEpochs
	if t.opts.MaxSteps > 0 {
		if maxEpochs > 0 {
			t.log.Warn().
				Int("max_steps", t.opts.MaxSteps).
				Int("max_epochs", maxEpochs).
				Msg("max_steps set, epoch limit is ignored")
		}
		// Enough epochs to reach the step budget whatever the batch count.
		maxEpochs = t.opts.MaxSteps
	}

	params := t.model.Parameters()
	for epoch := 0; epoch < maxEpochs; epoch++ {
		var epochLoss float64
		var batches int
		for _, batch := range t.data.TrainBatches(epoch) {
			if err := ctx.Err(); err != nil {
				return err
			}
			loss, grads := t.model.Backward(batch.X, batch.Labels)
			t.optim.Step(params, grads)
			t.globalStep++
			epochLoss += loss
			batches++

			t.router.LogScalar("train", "loss", loss, t.globalStep)
			if t.opts.MaxSteps > 0 && t.globalStep >= t.opts.MaxSteps {
				break
			}
		}

		if batches > 0 {
			t.log.Info().
				Int("epoch", epoch).
				Int("step", t.globalStep).
				Float64("loss", epochLoss/float64(batches)).
				Msg("epoch finished")
		}

		if t.opts.ValCheckInterval > 0 && (epoch+1)%t.opts.ValCheckInterval == 0 {
			if err := t.validate(ctx); err != nil {
				return err
			}
		}
		if t.opts.MaxSteps > 0 && t.globalStep >= t.opts.MaxSteps {
			break
		}
	}

	if t.opts.SavePath != "" {
		if err := SaveCheckpoint(t.opts.SavePath, params, t.data.SplitSeed()); err != nil {
			return fmt.Errorf("save trained model: %w", err)
		}
		t.log.Info().Str("path", t.opts.SavePath).Msg("model checkpoint saved")
	}
	return nil
}

// Test evaluates the model on the held-out test subset, reports the metric
// snapshot through the router and, when any plot output is enabled, renders
// the confusion matrix.
func (t *Trainer) Test(ctx context.Context) error {
	if err := t.prepare(ctx, datamodule.StageTest); err != nil {
		return err
	}

	t.agg.Reset("test")
	for _, batch := range t.data.TestBatches() {
		if err := ctx.Err(); err != nil {
			return err
		}
		logp := t.model.Forward(batch.X)
		if err := t.agg.UpdateScores(logp, batch.Labels); err != nil {
			return fmt.Errorf("accumulate test metrics: %w", err)
		}
	}

	snap := t.agg.Compute()
	for name, value := range snap.Scalars {
		t.router.LogScalar("test", name, value, t.globalStep)
	}

	if t.router.PlotsEnabled() {
		t.logConfusionPlot()
	}
	return nil
}

// prepare fetches the data, derives the partition for the stage and creates
// the metric aggregator once the class count is known.
func (t *Trainer) prepare(ctx context.Context, stage string) error {
	if err := t.data.Prepare(ctx); err != nil {
		return err
	}
	if err := t.data.Setup(stage); err != nil {
		return err
	}
	if t.agg == nil {
		t.agg = metrics.NewAggregator(t.data.NumClasses())
	}
	return nil
}

// validate runs one pass over the validation subset and reports its metrics.
func (t *Trainer) validate(ctx context.Context) error {
	t.agg.Reset("val")
	for _, batch := range t.data.ValBatches() {
		if err := ctx.Err(); err != nil {
			return err
		}
		logp := t.model.Forward(batch.X)
		if err := t.agg.UpdateScores(logp, batch.Labels); err != nil {
			return fmt.Errorf("accumulate validation metrics: %w", err)
		}
	}

	snap := t.agg.Compute()
	for name, value := range snap.Scalars {
		t.router.LogScalar("val", name, value, t.globalStep)
	}
	return nil
}

// logConfusionPlot renders and delivers the test confusion matrix. Plot
// rendering is best-effort: a failure is logged and evaluation results stand.
func (t *Trainer) logConfusionPlot() {
	defer func() {
		if r := recover(); r != nil {
			t.log.Error().Interface("panic", r).Msg("confusion matrix rendering panicked")
		}
	}()

	art, err := plotting.ConfusionHeatmap(t.agg.ConfusionMatrix(true), "confusion matrix (test)", t.opts.ImageFormat)
	if err != nil {
		t.log.Error().Err(err).Msg("failed to render confusion matrix")
		return
	}
	t.router.LogPlot("confusion_matrix", art)
}
