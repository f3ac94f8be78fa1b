package output

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
)

// TrackerOptions configures one remote experiment-tracker destination.
type TrackerOptions struct {
	// Name of the integration, used in error logs ("mlflow", "wandb", ...).
	Name string
	// RunName labels the run on the tracking server.
	RunName string
	// BaseURL of the tracking server.
	BaseURL string
	// APIKey is sent as a bearer token when non-empty.
	APIKey string
	// UploadImages enables artifact upload for this tracker.
	UploadImages bool
	// Timeout bounds each request (default 10s).
	Timeout time.Duration
	// Client overrides the HTTP client, mostly for tests.
	Client *http.Client
}

// TrackerSink delivers results to a remote tracking service over a small
// REST surface:
//
//	POST {base}/api/v1/runs                         -> {"run_id": ...}
//	POST {base}/api/v1/runs/{id}/params
//	POST {base}/api/v1/runs/{id}/metrics
//	PUT  {base}/api/v1/runs/{id}/artifacts/{name}
//	POST {base}/api/v1/runs/{id}/finish
type TrackerSink struct {
	opts   TrackerOptions
	client *http.Client
	runID  string
}

type trackerRun struct {
	RunName   string    `json:"run_name"`
	StartTime time.Time `json:"start_time"`
}

type trackerRunInfo struct {
	RunID string `json:"run_id"`
}

type trackerMetric struct {
	Stage     string    `json:"stage"`
	Name      string    `json:"name"`
	Value     float64   `json:"value"`
	Step      int       `json:"step"`
	Timestamp time.Time `json:"timestamp"`
}

// NewTrackerSink registers a new run with the tracking server and returns
// the destination. A registration failure is returned to the caller, which
// typically logs it and continues without this tracker.
func NewTrackerSink(opts TrackerOptions) (*TrackerSink, error) {
	if opts.BaseURL == "" {
		return nil, fmt.Errorf("tracker %s: missing url", opts.Name)
	}
	if opts.Timeout == 0 {
		opts.Timeout = 10 * time.Second
	}
	client := opts.Client
	if client == nil {
		client = &http.Client{Timeout: opts.Timeout}
	}

	t := &TrackerSink{opts: opts, client: client}

	var info trackerRunInfo
	err := t.post(context.Background(), "runs", trackerRun{RunName: opts.RunName, StartTime: time.Now().UTC()}, &info)
	if err != nil {
		return nil, fmt.Errorf("tracker %s: create run: %w", opts.Name, err)
	}
	t.runID = info.RunID
	if t.runID == "" {
		// Server did not assign an id; generate one client-side.
		t.runID = uuid.NewString()
	}
	return t, nil
}

// RunID returns the tracker's identifier for this run.
func (t *TrackerSink) RunID() string { return t.runID }

// Name implements Destination.
func (t *TrackerSink) Name() string { return "tracker:" + t.opts.Name }

// Capabilities implements Destination.
func (t *TrackerSink) Capabilities() Capability {
	caps := AcceptsConfig | AcceptsScalars
	if t.opts.UploadImages {
		caps |= AcceptsImages
	}
	return caps
}

// LogConfig uploads the flattened configuration as run parameters.
func (t *TrackerSink) LogConfig(cfg map[string]any) error {
	return t.post(context.Background(), t.runPath("params"), flatten("", cfg), nil)
}

// LogScalar uploads one metric point.
func (t *TrackerSink) LogScalar(stage, name string, value float64, step int) error {
	m := trackerMetric{Stage: stage, Name: name, Value: value, Step: step, Timestamp: time.Now().UTC()}
	return t.post(context.Background(), t.runPath("metrics"), m, nil)
}

// LogImage uploads the artifact bytes.
func (t *TrackerSink) LogImage(name string, art *Artifact) error {
	contentType := "image/png"
	if art.Format == "svg" {
		contentType = "image/svg+xml"
	}
	path := t.runPath("artifacts") + "/" + url.PathEscape(sanitizeName(name)+"."+art.Format)
	req, err := t.newRequest(context.Background(), http.MethodPut, path, bytes.NewReader(art.Data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", contentType)
	return t.do(req, nil)
}

// Close tells the server the run is finished.
func (t *TrackerSink) Close() error {
	return t.post(context.Background(), t.runPath("finish"), nil, nil)
}

func (t *TrackerSink) runPath(suffix string) string {
	return "runs/" + url.PathEscape(t.runID) + "/" + suffix
}

func (t *TrackerSink) post(ctx context.Context, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}
	req, err := t.newRequest(ctx, http.MethodPost, path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return t.do(req, out)
}

func (t *TrackerSink) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, t.opts.BaseURL+"/api/v1/"+path, body)
	if err != nil {
		return nil, err
	}
	if t.opts.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+t.opts.APIKey)
	}
	return req, nil
}

func (t *TrackerSink) do(req *http.Request, out any) error {
	resp, err := t.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%s %s: unexpected status %s", req.Method, req.URL.Path, resp.Status)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil && err != io.EOF {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}
