// Command forge runs one supervised training experiment from a YAML
// configuration: it fetches the dataset, trains the classifier, evaluates
// it on the held-out test subset and routes results to the configured
// destinations.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/forge-ml/forge/internal/config"
	"github.com/forge-ml/forge/internal/datamodule"
	"github.com/forge-ml/forge/internal/dataset"
	"github.com/forge-ml/forge/internal/logging"
	"github.com/forge-ml/forge/internal/nn"
	"github.com/forge-ml/forge/internal/optim"
	"github.com/forge-ml/forge/internal/output"
	"github.com/forge-ml/forge/internal/split"
	"github.com/forge-ml/forge/internal/trainer"
)

func main() {
	configPath := flag.String("config", "", "path to the YAML configuration file")
	runName := flag.String("run-name", "", "override the configured run name")
	epochs := flag.Int("epochs", 0, "override the configured epoch limit")
	loadModel := flag.String("load", "", "load a model checkpoint and only evaluate")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "forge:", err)
		os.Exit(1)
	}
	if *runName != "" {
		cfg.Run.Name = *runName
	}
	if *epochs > 0 {
		cfg.Trainer.MaxEpochs = *epochs
	}
	if *loadModel != "" {
		cfg.Trainer.LoadModelPath = *loadModel
	}

	runDir := filepath.Join(cfg.Output.Dir, cfg.Run.Name)
	log, logCloser, err := logging.New(logging.Options{
		ConsoleLevel: cfg.Output.LogLevelConsole,
		FileLevel:    cfg.Output.LogLevelFile,
		Dir:          runDir,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "forge:", err)
		os.Exit(1)
	}
	if logCloser != nil {
		defer logCloser.Close()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, runDir, log); err != nil {
		log.Error().Err(err).Msg("run failed")
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, runDir string, log zerolog.Logger) error {
	log.Info().Str("run", cfg.Run.Name).Msg("starting run")

	// The split seed comes from the checkpoint when restoring, so the
	// restored model is evaluated on the exact partition it was trained
	// with. Otherwise the run seed pins it, or fresh entropy is drawn.
	var ckpt *trainer.Checkpoint
	var partitioner *split.Partitioner
	switch {
	case cfg.Trainer.LoadModelPath != "":
		var err error
		ckpt, err = trainer.LoadCheckpoint(cfg.Trainer.LoadModelPath)
		if err != nil {
			return err
		}
		partitioner = split.NewSeededPartitioner(cfg.Data.Fractions, ckpt.SplitSeed)
		log.Info().Str("path", cfg.Trainer.LoadModelPath).
			Int64("split_seed", ckpt.SplitSeed).Msg("checkpoint loaded")
	case cfg.Run.Seed != 0:
		partitioner = split.NewSeededPartitioner(cfg.Data.Fractions, cfg.Run.Seed)
	default:
		partitioner = split.NewPartitioner(cfg.Data.Fractions)
	}

	source, err := dataSource(cfg.Data)
	if err != nil {
		return err
	}
	data, err := datamodule.New(source, cfg.Data.BatchSize, partitioner, log)
	if err != nil {
		return err
	}

	initSeed := cfg.Run.Seed
	if initSeed == 0 {
		initSeed = time.Now().UnixNano()
	}
	model, err := nn.NewSimpleClassifier(nn.SimpleClassifierConfig{
		NumInputs:  cfg.Model.NumInputs,
		NumHidden:  cfg.Model.NumHidden,
		NumClasses: cfg.Model.NumClasses,
		InitSeed:   initSeed,
	})
	if err != nil {
		return err
	}
	if ckpt != nil {
		if err := ckpt.Restore(model.Parameters()); err != nil {
			return fmt.Errorf("restore model: %w", err)
		}
	}

	opt, err := optim.New(cfg.Model.Optimizer, cfg.Model.LearningRate)
	if err != nil {
		return err
	}

	router := output.NewRouter(output.Options{
		RunName:     cfg.Run.Name,
		SavePlots:   cfg.Output.SavePlots,
		ShowPlots:   cfg.Output.ShowPlots,
		UploadPlots: cfg.Output.UploadPlots,
		SecretKeys:  config.SecretKeys,
	}, log, destinations(cfg, runDir, log)...)
	defer router.Close()

	cfgMap, err := cfg.AsMap()
	if err != nil {
		return err
	}
	router.LogConfig(cfgMap)

	savePath := ""
	if cfg.Trainer.SaveTrainedModel && ckpt == nil {
		savePath = filepath.Join(runDir, "model.ckpt.xz")
	}
	tr, err := trainer.New(trainer.Options{
		MaxEpochs:        cfg.Trainer.MaxEpochs,
		MaxSteps:         cfg.Trainer.MaxSteps,
		ValCheckInterval: cfg.Trainer.ValCheckInterval,
		SavePath:         savePath,
		ImageFormat:      cfg.Output.ImageFormat,
	}, model, opt, data, router, log)
	if err != nil {
		return err
	}

	if ckpt == nil {
		if err := tr.Fit(ctx); err != nil {
			return err
		}
	} else {
		log.Info().Msg("skipping training, evaluating loaded model")
	}
	return tr.Test(ctx)
}

// dataSource builds the configured dataset source.
func dataSource(cfg config.DataConfig) (dataset.Source, error) {
	switch cfg.Source {
	case "csv":
		if cfg.Path == "" {
			return nil, fmt.Errorf("data.source is csv but data.path is empty")
		}
		return dataset.CSVFile{Path: cfg.Path, HasHeader: cfg.HasHeader, Scale: cfg.Scale}, nil
	case "http":
		if cfg.URL == "" {
			return nil, fmt.Errorf("data.source is http but data.url is empty")
		}
		return dataset.HTTPCSV{URL: cfg.URL, HasHeader: cfg.HasHeader, Scale: cfg.Scale}, nil
	default:
		return nil, fmt.Errorf("unknown data source %q", cfg.Source)
	}
}

// destinations assembles the configured output destinations. Failures here
// are not fatal: a destination that cannot be constructed is logged and
// skipped, and the run proceeds with the rest.
func destinations(cfg config.Config, runDir string, log zerolog.Logger) []output.Destination {
	dests := []output.Destination{output.NewConsoleSink(log)}

	dir, err := output.NewDirSink(runDir, cfg.Output.SavePlots)
	if err != nil {
		log.Error().Err(err).Msg("local run directory unavailable")
	} else {
		dests = append(dests, dir)
	}

	if cfg.Output.SQLite.Enabled {
		db, err := output.NewSQLiteSink(cfg.Output.SQLite.Path, cfg.Run.Name, cfg.Output.UploadPlots)
		if err != nil {
			log.Error().Err(err).Msg("run database unavailable")
		} else {
			dests = append(dests, db)
		}
	}

	for _, tc := range cfg.Output.Trackers {
		if !tc.Enabled {
			continue
		}
		sink, err := output.NewTrackerSink(output.TrackerOptions{
			Name:         tc.Name,
			RunName:      cfg.Run.Name,
			BaseURL:      tc.URL,
			APIKey:       tc.APIKey,
			UploadImages: cfg.Output.UploadPlots,
		})
		if err != nil {
			log.Error().Err(err).Str("tracker", tc.Name).Msg("tracker unavailable, continuing without it")
			continue
		}
		dests = append(dests, sink)
	}
	return dests
}
