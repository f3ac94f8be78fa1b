package trainer

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/ulikunitz/xz"
	"gonum.org/v1/gonum/mat"
)

// ErrMissingModelFile is returned when a checkpoint path to restore from
// does not exist.
var ErrMissingModelFile = errors.New("model checkpoint file not found")

// Checkpoint is a persisted model state: the parameter matrices plus the
// split seed the model was trained with. Restoring the seed together with
// the weights reconstructs the exact train/validation/test partition, so a
// restored model is never evaluated on records it trained on.
type Checkpoint struct {
	SavedAt   time.Time                  `json:"saved_at"`
	SplitSeed int64                      `json:"split_seed"`
	Params    map[string]checkpointParam `json:"params"`
}

type checkpointParam struct {
	Rows int       `json:"rows"`
	Cols int       `json:"cols"`
	Data []float64 `json:"data"`
}

// SaveCheckpoint writes the parameters and split seed to path as
// xz-compressed JSON. The write goes through a temp file and rename so a
// crash never leaves a truncated checkpoint behind.
func SaveCheckpoint(path string, params map[string]*mat.Dense, splitSeed int64) error {
	ckpt := Checkpoint{
		SavedAt:   time.Now().UTC(),
		SplitSeed: splitSeed,
		Params:    make(map[string]checkpointParam, len(params)),
	}
	for name, m := range params {
		rows, cols := m.Dims()
		data := make([]float64, rows*cols)
		copy(data, m.RawMatrix().Data)
		ckpt.Params[name] = checkpointParam{Rows: rows, Cols: cols, Data: data}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create checkpoint directory: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".ckpt-*")
	if err != nil {
		return fmt.Errorf("create checkpoint: %w", err)
	}
	defer os.Remove(tmp.Name())

	w, err := xz.NewWriter(tmp)
	if err != nil {
		tmp.Close()
		return fmt.Errorf("compress checkpoint: %w", err)
	}
	if err := json.NewEncoder(w).Encode(ckpt); err != nil {
		tmp.Close()
		return fmt.Errorf("encode checkpoint: %w", err)
	}
	if err := w.Close(); err != nil {
		tmp.Close()
		return fmt.Errorf("compress checkpoint: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// LoadCheckpoint reads a checkpoint written by SaveCheckpoint. A missing
// file is reported as ErrMissingModelFile so callers can distinguish a bad
// path from a corrupt file.
func LoadCheckpoint(path string) (*Checkpoint, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrMissingModelFile, path)
		}
		return nil, err
	}
	defer f.Close()

	r, err := xz.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("decompress checkpoint %s: %w", path, err)
	}
	var ckpt Checkpoint
	if err := json.NewDecoder(r).Decode(&ckpt); err != nil {
		return nil, fmt.Errorf("decode checkpoint %s: %w", path, err)
	}
	return &ckpt, nil
}

// Restore copies the checkpoint's weights into the given live parameter
// matrices. Every checkpoint parameter must exist with matching dimensions.
func (c *Checkpoint) Restore(params map[string]*mat.Dense) error {
	for name, saved := range c.Params {
		dst, ok := params[name]
		if !ok {
			return fmt.Errorf("checkpoint parameter %q has no matching model parameter", name)
		}
		rows, cols := dst.Dims()
		if rows != saved.Rows || cols != saved.Cols {
			return fmt.Errorf("checkpoint parameter %q is %dx%d, model expects %dx%d",
				name, saved.Rows, saved.Cols, rows, cols)
		}
		copy(dst.RawMatrix().Data, saved.Data)
	}
	return nil
}
