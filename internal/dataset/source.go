package dataset

import (
	"context"
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// Source is a one-time provider of tabular data.
//
// Fetch is called once per run by the data module's Prepare step. The
// expected table shape is rows of floats with the last column holding an
// integer class label.
type Source interface {
	// Fetch downloads or reads the source table and decodes it.
	Fetch(ctx context.Context) (*Dataset, error)
}

// CSVFile reads a local CSV file where every column is a float feature
// except the last, which is an integer class label.
type CSVFile struct {
	// Path of the CSV file.
	Path string
	// HasHeader skips the first row.
	HasHeader bool
	// Scale divides every feature by the given value when non-zero,
	// e.g. 255 for raw pixel intensities.
	Scale float64
}

// Fetch decodes the CSV file into a Dataset.
func (c CSVFile) Fetch(_ context.Context) (*Dataset, error) {
	f, err := os.Open(c.Path)
	if err != nil {
		return nil, fmt.Errorf("open dataset file: %w", err)
	}
	defer f.Close()

	return c.decode(f)
}

func (c CSVFile) decode(r io.Reader) (*Dataset, error) {
	reader := csv.NewReader(r)
	reader.ReuseRecord = true

	var (
		features [][]float64
		labels   []int
		rowNum   int
	)
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read CSV: %w", err)
		}
		rowNum++
		if c.HasHeader && rowNum == 1 {
			continue
		}
		if len(record) < 2 {
			return nil, fmt.Errorf("row %d: need at least one feature and a label, got %d columns", rowNum, len(record))
		}

		row := make([]float64, len(record)-1)
		for j, cell := range record[:len(record)-1] {
			v, err := strconv.ParseFloat(cell, 64)
			if err != nil {
				return nil, fmt.Errorf("row %d, column %d: %w", rowNum, j+1, err)
			}
			if c.Scale != 0 {
				v /= c.Scale
			}
			row[j] = v
		}

		label, err := strconv.Atoi(record[len(record)-1])
		if err != nil {
			return nil, fmt.Errorf("row %d: invalid label: %w", rowNum, err)
		}

		features = append(features, row)
		labels = append(labels, label)
	}

	return New(features, labels)
}

// HTTPCSV downloads a CSV table once and caches it on disk.
//
// Repeated Fetch calls (and repeated runs) hit the cache; the download and
// caching protocol is deliberately simple since dataset preparation is a
// one-time, out-of-band step.
type HTTPCSV struct {
	// URL of the CSV table.
	URL string
	// CacheDir overrides the cache location; defaults to the user cache
	// directory under "forge/datasets".
	CacheDir string
	// HasHeader and Scale are forwarded to the CSV decoder.
	HasHeader bool
	Scale     float64

	// Client overrides the HTTP client, mostly for tests.
	Client *http.Client
}

// Fetch downloads the table if it is not cached yet, then decodes it.
func (h HTTPCSV) Fetch(ctx context.Context) (*Dataset, error) {
	path, err := h.cachePath()
	if err != nil {
		return nil, err
	}

	if _, err := os.Stat(path); err != nil {
		if err := h.download(ctx, path); err != nil {
			return nil, err
		}
	}

	return CSVFile{Path: path, HasHeader: h.HasHeader, Scale: h.Scale}.Fetch(ctx)
}

func (h HTTPCSV) cachePath() (string, error) {
	dir := h.CacheDir
	if dir == "" {
		base, err := os.UserCacheDir()
		if err != nil {
			return "", fmt.Errorf("resolve cache dir: %w", err)
		}
		dir = filepath.Join(base, "forge", "datasets")
	}
	sum := sha256.Sum256([]byte(h.URL))
	return filepath.Join(dir, hex.EncodeToString(sum[:8])+".csv"), nil
}

func (h HTTPCSV) download(ctx context.Context, path string) error {
	client := h.Client
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Minute}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.URL, nil)
	if err != nil {
		return fmt.Errorf("build dataset request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("download dataset: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download dataset: unexpected status %s", resp.Status)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create cache dir: %w", err)
	}

	// Write through a temp file so a partial download never poisons the
	// cache.
	tmp, err := os.CreateTemp(filepath.Dir(path), ".download-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, resp.Body); err != nil {
		tmp.Close()
		return fmt.Errorf("write dataset cache: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close dataset cache: %w", err)
	}

	return os.Rename(tmp.Name(), path)
}
