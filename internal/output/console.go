package output

import (
	"gopkg.in/yaml.v3"

	"github.com/rs/zerolog"
)

// ConsoleSink reports configuration and scalar metrics through the process
// logger. It never accepts images.
type ConsoleSink struct {
	log zerolog.Logger
}

// NewConsoleSink creates a console destination over the given logger.
func NewConsoleSink(log zerolog.Logger) *ConsoleSink {
	return &ConsoleSink{log: log}
}

// Name implements Destination.
func (c *ConsoleSink) Name() string { return "console" }

// Capabilities implements Destination.
func (c *ConsoleSink) Capabilities() Capability {
	return AcceptsConfig | AcceptsScalars
}

// LogConfig dumps the (already redacted) configuration at debug level.
func (c *ConsoleSink) LogConfig(cfg map[string]any) error {
	dump, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	c.log.Debug().Msg("run configuration:\n" + string(dump))
	return nil
}

// LogScalar reports one metric at info level.
func (c *ConsoleSink) LogScalar(stage, name string, value float64, step int) error {
	c.log.Info().
		Str("stage", stage).
		Int("step", step).
		Float64(name, value).
		Msg("metric")
	return nil
}

// LogImage implements Destination; the console accepts no images.
func (c *ConsoleSink) LogImage(string, *Artifact) error {
	return nil
}

// Close implements Destination.
func (c *ConsoleSink) Close() error { return nil }
