package trainer_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/forge-ml/forge/internal/datamodule"
	"github.com/forge-ml/forge/internal/dataset"
	"github.com/forge-ml/forge/internal/nn"
	"github.com/forge-ml/forge/internal/optim"
	"github.com/forge-ml/forge/internal/output"
	"github.com/forge-ml/forge/internal/split"
	"github.com/forge-ml/forge/internal/trainer"
)

// separableSource serves a two-class dataset where the label is encoded
// directly in the features, so any sane training run reaches high accuracy.
type separableSource struct {
	n int
}

func (s separableSource) Fetch(context.Context) (*dataset.Dataset, error) {
	features := make([][]float64, s.n)
	labels := make([]int, s.n)
	for i := range features {
		label := i % 2
		if label == 0 {
			features[i] = []float64{1, 0}
		} else {
			features[i] = []float64{0, 1}
		}
		labels[i] = label
	}
	return dataset.New(features, labels)
}

// captureDest records everything the router delivers to it.
type captureDest struct {
	scalars map[string][]float64
	images  []string
}

func newCaptureDest() *captureDest {
	return &captureDest{scalars: make(map[string][]float64)}
}

func (d *captureDest) Name() string { return "capture" }
func (d *captureDest) Capabilities() output.Capability {
	return output.AcceptsConfig | output.AcceptsScalars | output.AcceptsImages
}
func (d *captureDest) LogConfig(map[string]any) error { return nil }
func (d *captureDest) LogScalar(stage, name string, value float64, _ int) error {
	key := stage + "_" + name
	d.scalars[key] = append(d.scalars[key], value)
	return nil
}
func (d *captureDest) LogImage(name string, _ *output.Artifact) error {
	d.images = append(d.images, name)
	return nil
}
func (d *captureDest) Close() error { return nil }

type fixture struct {
	trainer *trainer.Trainer
	dest    *captureDest
	model   *nn.SimpleClassifier
	data    *datamodule.DataModule
}

func newFixture(t *testing.T, opts trainer.Options, routerOpts output.Options) fixture {
	t.Helper()

	p := split.NewSeededPartitioner(split.DefaultFractions, 7)
	dm, err := datamodule.New(separableSource{n: 100}, 10, p, zerolog.Nop())
	require.NoError(t, err)

	model, err := nn.NewSimpleClassifier(nn.SimpleClassifierConfig{
		NumInputs: 2, NumHidden: 8, NumClasses: 2, InitSeed: 1,
	})
	require.NoError(t, err)

	opt, err := optim.New("adam", 0.05)
	require.NoError(t, err)

	dest := newCaptureDest()
	router := output.NewRouter(routerOpts, zerolog.Nop(), dest)

	tr, err := trainer.New(opts, model, opt, dm, router, zerolog.Nop())
	require.NoError(t, err)
	return fixture{trainer: tr, dest: dest, model: model, data: dm}
}

func TestTrainer_FitLogsLossPerStep(t *testing.T) {
	f := newFixture(t, trainer.Options{MaxEpochs: 2}, output.Options{})
	require.NoError(t, f.trainer.Fit(context.Background()))

	// 70 train records in batches of 10, two epochs.
	assert.Equal(t, 14, f.trainer.GlobalStep())
	assert.Len(t, f.dest.scalars["train_loss"], 14)

	losses := f.dest.scalars["train_loss"]
	assert.Less(t, losses[len(losses)-1], losses[0], "loss must fall on separable data")
}

func TestTrainer_MaxStepsOverridesEpochs(t *testing.T) {
	f := newFixture(t, trainer.Options{MaxEpochs: 50, MaxSteps: 3}, output.Options{})
	require.NoError(t, f.trainer.Fit(context.Background()))
	assert.Equal(t, 3, f.trainer.GlobalStep())
	assert.Len(t, f.dest.scalars["train_loss"], 3)
}

func TestTrainer_ValidationInterval(t *testing.T) {
	f := newFixture(t, trainer.Options{MaxEpochs: 4, ValCheckInterval: 2}, output.Options{})
	require.NoError(t, f.trainer.Fit(context.Background()))
	assert.Len(t, f.dest.scalars["val_acc"], 2, "4 epochs at interval 2 validate twice")
	assert.Len(t, f.dest.scalars["val_f1"], 2)
}

func TestTrainer_TestReportsMetricsAndPlot(t *testing.T) {
	f := newFixture(t, trainer.Options{MaxEpochs: 10}, output.Options{SavePlots: true})
	ctx := context.Background()
	require.NoError(t, f.trainer.Fit(ctx))
	require.NoError(t, f.trainer.Test(ctx))

	require.Len(t, f.dest.scalars["test_acc"], 1)
	assert.Greater(t, f.dest.scalars["test_acc"][0], 0.9, "separable data must be learned")
	assert.Contains(t, f.dest.scalars, "test_precision")
	assert.Contains(t, f.dest.scalars, "test_recall")
	assert.Contains(t, f.dest.scalars, "test_f1")

	assert.Equal(t, []string{"confusion_matrix"}, f.dest.images)
}

func TestTrainer_NoPlotWhenDisabled(t *testing.T) {
	f := newFixture(t, trainer.Options{MaxEpochs: 1}, output.Options{})
	ctx := context.Background()
	require.NoError(t, f.trainer.Fit(ctx))
	require.NoError(t, f.trainer.Test(ctx))
	assert.Empty(t, f.dest.images)
}

func TestTrainer_CancelledContextStopsTraining(t *testing.T) {
	f := newFixture(t, trainer.Options{MaxEpochs: 100}, output.Options{})
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, f.data.Prepare(ctx))
	cancel()
	assert.ErrorIs(t, f.trainer.Fit(ctx), context.Canceled)
}

func TestTrainer_RejectsNoBudget(t *testing.T) {
	_, err := trainer.New(trainer.Options{}, nil, nil, nil, nil, zerolog.Nop())
	assert.Error(t, err)
}

func TestCheckpoint_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model.ckpt.xz")

	params := map[string]*mat.Dense{
		"w1": mat.NewDense(2, 3, []float64{1, 2, 3, 4, 5, 6}),
		"b1": mat.NewDense(1, 3, []float64{0.1, 0.2, 0.3}),
	}
	require.NoError(t, trainer.SaveCheckpoint(path, params, 4242))

	ckpt, err := trainer.LoadCheckpoint(path)
	require.NoError(t, err)
	assert.Equal(t, int64(4242), ckpt.SplitSeed)

	restored := map[string]*mat.Dense{
		"w1": mat.NewDense(2, 3, nil),
		"b1": mat.NewDense(1, 3, nil),
	}
	require.NoError(t, ckpt.Restore(restored))
	assert.Equal(t, params["w1"].RawMatrix().Data, restored["w1"].RawMatrix().Data)
	assert.Equal(t, params["b1"].RawMatrix().Data, restored["b1"].RawMatrix().Data)
}

func TestCheckpoint_MissingFile(t *testing.T) {
	_, err := trainer.LoadCheckpoint(filepath.Join(t.TempDir(), "absent.ckpt.xz"))
	assert.ErrorIs(t, err, trainer.ErrMissingModelFile)
}

func TestCheckpoint_ShapeMismatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model.ckpt.xz")
	require.NoError(t, trainer.SaveCheckpoint(path, map[string]*mat.Dense{
		"w1": mat.NewDense(2, 2, []float64{1, 2, 3, 4}),
	}, 1))

	ckpt, err := trainer.LoadCheckpoint(path)
	require.NoError(t, err)

	err = ckpt.Restore(map[string]*mat.Dense{"w1": mat.NewDense(3, 3, nil)})
	assert.Error(t, err)

	err = ckpt.Restore(map[string]*mat.Dense{"other": mat.NewDense(2, 2, nil)})
	assert.Error(t, err, "missing model parameter must be rejected")
}

func TestTrainer_SavesTrainedModel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "model.ckpt.xz")
	f := newFixture(t, trainer.Options{MaxEpochs: 1, SavePath: path}, output.Options{})
	require.NoError(t, f.trainer.Fit(context.Background()))

	ckpt, err := trainer.LoadCheckpoint(path)
	require.NoError(t, err)
	assert.Equal(t, int64(7), ckpt.SplitSeed, "checkpoint must carry the split seed")
	require.NoError(t, ckpt.Restore(f.model.Parameters()))
}
