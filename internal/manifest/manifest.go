// Package manifest records the outcome of a run as a Parquet table, one row
// per composite date.
package manifest

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/parquet-go/parquet-go"

	"github.com/wateraccounting/IHEWAcollect-sub000/internal/dispatch"
	"github.com/wateraccounting/IHEWAcollect-sub000/internal/registry"
)

// Row is one task of a run.
type Row struct {
	RunID      string `parquet:"run_id"`
	Product    string `parquet:"product"`
	Version    string `parquet:"version"`
	Parameter  string `parquet:"parameter"`
	Resolution string `parquet:"resolution"`
	Variable   string `parquet:"variable"`

	// Date is Unix seconds, UTC.
	Date        int64  `parquet:"date"`
	Output      string `parquet:"output"`
	Status      int32  `parquet:"status"`
	Skipped     bool   `parquet:"skipped"`
	Transferred int32  `parquet:"transferred"`
	Bytes       int64  `parquet:"bytes"`
	Failures    int32  `parquet:"failures"`
	DurationMS  int64  `parquet:"duration_ms"`
	Error       string `parquet:"error"`
}

// Rows converts the results of a run.
func Rows(runID string, key registry.Key, results []dispatch.FetchResult) []Row {
	rows := make([]Row, 0, len(results))
	for _, r := range results {
		row := Row{
			RunID:       runID,
			Product:     key.Product,
			Version:     key.Version,
			Parameter:   key.Parameter,
			Resolution:  key.Resolution,
			Variable:    key.Variable,
			Date:        r.Date.UTC().Unix(),
			Output:      r.Output,
			Status:      int32(r.Status),
			Skipped:     r.Skipped,
			Transferred: int32(r.Transferred),
			Bytes:       r.Bytes,
			Failures:    int32(r.Failures),
			DurationMS:  r.Duration.Milliseconds(),
		}
		if err := errors.Join(append([]error{r.Err}, r.Errors...)...); err != nil {
			row.Error = err.Error()
		}
		rows = append(rows, row)
	}
	return rows
}

// Write atomically writes rows to path via a .tmp intermediate file.
func Write(path string, rows []Row) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}

	w := parquet.NewGenericWriter[Row](f)
	if _, err := w.Write(rows); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("manifest: write %s: %w", path, err)
	}
	if err := w.Close(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("manifest: close %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

// Read loads every row of a manifest.
func Read(path string) ([]Row, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	pf, err := parquet.OpenFile(f, info.Size())
	if err != nil {
		return nil, fmt.Errorf("manifest: open %s: %w", path, err)
	}

	reader := parquet.NewGenericReader[Row](pf)
	defer reader.Close()
	rows := make([]Row, reader.NumRows())
	n, err := reader.Read(rows)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("manifest: read %s: %w", path, err)
	}
	return rows[:n], nil
}
