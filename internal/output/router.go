package output

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"

	"github.com/rs/zerolog"
)

// Options configures a Router.
type Options struct {
	// RunName names the run in destinations that record it.
	RunName string

	// SavePlots, ShowPlots and UploadPlots control whether plots are
	// worth rendering at all (see PlotsEnabled) and whether the router
	// opens rendered plots in a local viewer.
	SavePlots   bool
	ShowPlots   bool
	UploadPlots bool

	// SecretKeys are the configuration keys redacted from every logged
	// configuration dump.
	SecretKeys []string
}

// Router multiplexes results across destinations.
type Router struct {
	opts  Options
	dests []Destination
	log   zerolog.Logger
}

// NewRouter creates a Router over the given destinations.
func NewRouter(opts Options, log zerolog.Logger, dests ...Destination) *Router {
	return &Router{opts: opts, dests: dests, log: log}
}

// Destinations returns the attached destinations.
func (r *Router) Destinations() []Destination {
	return r.dests
}

// LogConfig redacts secrets from the configuration dump and delivers it to
// every destination that accepts configuration. Failures are logged and
// swallowed.
func (r *Router) LogConfig(cfg map[string]any) {
	redacted := Redact(cfg, r.opts.SecretKeys)
	for _, d := range r.dests {
		if !d.Capabilities().Has(AcceptsConfig) {
			continue
		}
		if err := d.LogConfig(redacted); err != nil {
			r.log.Error().Err(err).Str("destination", d.Name()).Msg("failed to deliver configuration")
		}
	}
}

// LogScalar delivers one scalar metric to every destination that accepts
// scalars. Failures are logged and swallowed.
func (r *Router) LogScalar(stage, name string, value float64, step int) {
	for _, d := range r.dests {
		if !d.Capabilities().Has(AcceptsScalars) {
			continue
		}
		if err := d.LogScalar(stage, name, value, step); err != nil {
			r.log.Error().Err(err).Str("destination", d.Name()).
				Str("metric", stage+"_"+name).Msg("failed to deliver metric")
		}
	}
}

// LogPlot delivers a rendered plot to every destination that accepts
// images, then shows it locally if configured. Failures are logged and
// swallowed; ownership of the artifact ends when LogPlot returns.
func (r *Router) LogPlot(name string, art *Artifact) {
	if art == nil {
		return
	}
	for _, d := range r.dests {
		if !d.Capabilities().Has(AcceptsImages) {
			continue
		}
		if err := d.LogImage(name, art); err != nil {
			r.log.Error().Err(err).Str("destination", d.Name()).
				Str("plot", name).Msg("failed to deliver plot")
		}
	}

	if r.opts.ShowPlots {
		if err := r.showPlot(name, art); err != nil {
			r.log.Error().Err(err).Str("plot", name).Msg("failed to show plot")
		}
	}
}

// PlotsEnabled reports whether any plot output is wanted. Callers skip the
// rendering work entirely when it returns false.
func (r *Router) PlotsEnabled() bool {
	return r.opts.SavePlots || r.opts.ShowPlots || r.opts.UploadPlots
}

// Close closes every destination, logging failures.
func (r *Router) Close() {
	for _, d := range r.dests {
		if err := d.Close(); err != nil {
			r.log.Error().Err(err).Str("destination", d.Name()).Msg("failed to close destination")
		}
	}
}

// showPlot writes the artifact to a temp file and hands it to the
// platform's default viewer, best-effort.
func (r *Router) showPlot(name string, art *Artifact) error {
	f, err := os.CreateTemp("", "forge-plot-*."+art.Format)
	if err != nil {
		return err
	}
	if _, err := f.Write(art.Data); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	r.log.Info().Str("plot", name).Str("path", f.Name()).Msg("plot written for viewing")

	opener := "xdg-open"
	if runtime.GOOS == "darwin" {
		opener = "open"
	}
	if _, err := exec.LookPath(opener); err != nil {
		// No viewer available (headless host); the temp path was logged.
		return nil
	}
	return exec.Command(opener, f.Name()).Start()
}

// Redact returns a deep copy of cfg where every value under a secret key is
// replaced with the fixed placeholder, nested maps included. Empty values
// are left alone so a dump still shows which secrets were unset.
func Redact(cfg map[string]any, secretKeys []string) map[string]any {
	secrets := make(map[string]bool, len(secretKeys))
	for _, k := range secretKeys {
		secrets[strings.ToLower(k)] = true
	}
	return redactMap(cfg, secrets)
}

func redactMap(cfg map[string]any, secrets map[string]bool) map[string]any {
	out := make(map[string]any, len(cfg))
	for key, value := range cfg {
		switch v := value.(type) {
		case map[string]any:
			out[key] = redactMap(v, secrets)
		case []any:
			items := make([]any, len(v))
			for i, item := range v {
				if m, ok := item.(map[string]any); ok {
					items[i] = redactMap(m, secrets)
				} else {
					items[i] = item
				}
			}
			out[key] = items
		default:
			if secrets[strings.ToLower(key)] && !isEmpty(value) {
				out[key] = SecretPlaceholder
			} else {
				out[key] = value
			}
		}
	}
	return out
}

// SecretPlaceholder is the fixed replacement for redacted values.
const SecretPlaceholder = "<secret>"

func isEmpty(v any) bool {
	switch x := v.(type) {
	case nil:
		return true
	case string:
		return x == ""
	default:
		return false
	}
}

var unsafeNameChars = regexp.MustCompile(`[\s\\/]+`)

// sanitizeName makes a logged artifact name safe to use as a file name.
func sanitizeName(name string) string {
	return unsafeNameChars.ReplaceAllString(strings.TrimSpace(name), "_")
}

// ensureDir creates dir and parents.
func ensureDir(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", filepath.Base(dir), err)
	}
	return nil
}
