package dataset_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forge-ml/forge/internal/dataset"
)

func TestNew_Validation(t *testing.T) {
	_, err := dataset.New(nil, nil)
	assert.ErrorIs(t, err, dataset.ErrNoRecords)

	_, err = dataset.New([][]float64{{1, 2}, {3}}, []int{0, 1})
	assert.Error(t, err, "ragged rows must be rejected")

	_, err = dataset.New([][]float64{{1, 2}}, []int{-1})
	assert.Error(t, err, "negative labels must be rejected")

	_, err = dataset.New([][]float64{{1, 2}}, []int{0, 1})
	assert.Error(t, err, "row/label count mismatch must be rejected")
}

func TestDataset_Accessors(t *testing.T) {
	ds, err := dataset.New([][]float64{{0.1, 0.2}, {0.3, 0.4}, {0.5, 0.6}}, []int{0, 2, 1})
	require.NoError(t, err)

	assert.Equal(t, 3, ds.Len())
	assert.Equal(t, 2, ds.NumFeatures())
	assert.Equal(t, 3, ds.NumClasses())

	rec := ds.At(1)
	assert.Equal(t, []float64{0.3, 0.4}, rec.Features)
	assert.Equal(t, 2, rec.Label)
	assert.Equal(t, 2, ds.Label(1))
}

const sampleCSV = "f1,f2,label\n0.5,1.5,0\n2.5,3.5,1\n4.5,5.5,1\n"

func TestCSVFile_Fetch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.csv")
	require.NoError(t, os.WriteFile(path, []byte(sampleCSV), 0o644))

	ds, err := dataset.CSVFile{Path: path, HasHeader: true}.Fetch(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, ds.Len())
	assert.Equal(t, 2, ds.NumFeatures())
	assert.Equal(t, 2, ds.NumClasses())
	assert.Equal(t, []float64{2.5, 3.5}, ds.At(1).Features)
	assert.Equal(t, 1, ds.At(1).Label)
}

func TestCSVFile_Scale(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.csv")
	require.NoError(t, os.WriteFile(path, []byte("255,0,1\n0,255,0\n"), 0o644))

	ds, err := dataset.CSVFile{Path: path, Scale: 255}.Fetch(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 1.0, ds.At(0).Features[0], 1e-12)
	assert.InDelta(t, 0.0, ds.At(0).Features[1], 1e-12)
}

func TestCSVFile_BadRows(t *testing.T) {
	dir := t.TempDir()

	path := filepath.Join(dir, "badfloat.csv")
	require.NoError(t, os.WriteFile(path, []byte("x,1,0\n"), 0o644))
	_, err := dataset.CSVFile{Path: path}.Fetch(context.Background())
	assert.Error(t, err)

	path = filepath.Join(dir, "badlabel.csv")
	require.NoError(t, os.WriteFile(path, []byte("1,2,notalabel\n"), 0o644))
	_, err = dataset.CSVFile{Path: path}.Fetch(context.Background())
	assert.Error(t, err)
}

func TestHTTPCSV_DownloadAndCache(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits++
		_, _ = w.Write([]byte(sampleCSV))
	}))
	defer srv.Close()

	src := dataset.HTTPCSV{
		URL:       srv.URL,
		CacheDir:  t.TempDir(),
		HasHeader: true,
		Client:    srv.Client(),
	}

	ds, err := src.Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, ds.Len())
	assert.Equal(t, 1, hits)

	// Second fetch must come from the cache.
	ds, err = src.Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, ds.Len())
	assert.Equal(t, 1, hits, "cached fetch must not re-download")
}

func TestHTTPCSV_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := dataset.HTTPCSV{URL: srv.URL, CacheDir: t.TempDir(), Client: srv.Client()}.Fetch(context.Background())
	assert.Error(t, err)
}
