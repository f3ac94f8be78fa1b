package output

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// DirSink persists results into a local run directory:
//
//	<root>/<run>/config.yaml   redacted configuration dump
//	<root>/<run>/metrics.csv   one row per logged scalar
//	<root>/<run>/img/          rendered plots
type DirSink struct {
	dir        string
	saveImages bool

	metricsFile *os.File
	metrics     *csv.Writer
}

// NewDirSink creates the run directory and the destination writing into it.
// Images are only accepted when saveImages is set.
func NewDirSink(dir string, saveImages bool) (*DirSink, error) {
	if err := ensureDir(dir); err != nil {
		return nil, err
	}
	return &DirSink{dir: dir, saveImages: saveImages}, nil
}

// Dir returns the run directory.
func (d *DirSink) Dir() string { return d.dir }

// Name implements Destination.
func (d *DirSink) Name() string { return "local-dir" }

// Capabilities implements Destination.
func (d *DirSink) Capabilities() Capability {
	caps := AcceptsConfig | AcceptsScalars
	if d.saveImages {
		caps |= AcceptsImages
	}
	return caps
}

// LogConfig writes the configuration dump to config.yaml, overwriting any
// previous dump for this run.
func (d *DirSink) LogConfig(cfg map[string]any) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config dump: %w", err)
	}
	return os.WriteFile(filepath.Join(d.dir, "config.yaml"), data, 0o644)
}

// LogScalar appends one row to metrics.csv, creating it (with a header) on
// first use.
func (d *DirSink) LogScalar(stage, name string, value float64, step int) error {
	if d.metrics == nil {
		f, err := os.OpenFile(filepath.Join(d.dir, "metrics.csv"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("open metrics.csv: %w", err)
		}
		d.metricsFile = f
		d.metrics = csv.NewWriter(f)

		if info, err := f.Stat(); err == nil && info.Size() == 0 {
			if err := d.metrics.Write([]string{"time", "stage", "name", "value", "step"}); err != nil {
				return err
			}
		}
	}

	err := d.metrics.Write([]string{
		time.Now().UTC().Format(time.RFC3339Nano),
		stage,
		name,
		strconv.FormatFloat(value, 'g', -1, 64),
		strconv.Itoa(step),
	})
	if err != nil {
		return err
	}
	// Flush per row: metric volume is low and a crash must not lose the
	// tail of the history.
	d.metrics.Flush()
	return d.metrics.Error()
}

// LogImage writes the artifact under img/ with a sanitized file name.
func (d *DirSink) LogImage(name string, art *Artifact) error {
	imgDir := filepath.Join(d.dir, "img")
	if err := ensureDir(imgDir); err != nil {
		return err
	}
	path := filepath.Join(imgDir, sanitizeName(name)+"."+art.Format)
	return os.WriteFile(path, art.Data, 0o644)
}

// Close flushes and closes metrics.csv.
func (d *DirSink) Close() error {
	if d.metrics != nil {
		d.metrics.Flush()
		if err := d.metrics.Error(); err != nil {
			d.metricsFile.Close()
			return err
		}
		return d.metricsFile.Close()
	}
	return nil
}
