// Package output routes experiment results to their destinations.
//
// A Router fans configuration dumps, scalar metrics and rendered plot
// artifacts out to a set of destinations: the console, a local run
// directory, a SQLite run-history database and any number of remote
// trackers. Destinations are iterated through one uniform interface with
// capability flags; there is no per-type dispatch.
//
// Delivery is best-effort by contract: a failing destination is logged at
// error severity and skipped, and the call returns normally. A broken
// tracker or full disk never interrupts training.
package output

// Capability flags what artifact kinds a destination accepts. Destinations
// declare their capabilities at construction; the router only offers an
// artifact to destinations that accept its kind.
type Capability uint8

// Capability flags.
const (
	AcceptsConfig Capability = 1 << iota
	AcceptsScalars
	AcceptsImages
)

// Has reports whether c includes want.
func (c Capability) Has(want Capability) bool {
	return c&want == want
}

// Artifact is a rendered image ready for delivery.
//
// Ownership is released once every destination consumed it; destinations
// that need the bytes past the call must copy them.
type Artifact struct {
	// Format is the encoding, "png" or "svg".
	Format string
	// Data holds the encoded image.
	Data []byte
}

// Destination consumes logged configuration, scalars and images.
type Destination interface {
	// Name identifies the destination in error logs.
	Name() string

	// Capabilities reports which artifact kinds this destination accepts.
	Capabilities() Capability

	// LogConfig records a configuration dump. Secrets are already
	// redacted by the router.
	LogConfig(cfg map[string]any) error

	// LogScalar records one scalar metric value for a stage.
	LogScalar(stage, name string, value float64, step int) error

	// LogImage records a rendered plot.
	LogImage(name string, art *Artifact) error

	// Close releases the destination's resources at end of run.
	Close() error
}
