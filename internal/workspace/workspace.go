// Package workspace owns the on-disk layout of a collection run:
//
//	<root>/IHEWAcollect/<variable>/remote      raw provider files
//	<root>/IHEWAcollect/<variable>/temporary   decompressed intermediates
//	<root>/IHEWAcollect/<variable>/download    output GeoTIFFs
package workspace

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/wateraccounting/IHEWAcollect-sub000/internal/registry"
)

// Folder is the directory created under the workspace root.
const Folder = "IHEWAcollect"

// Workspace is the set of directories of one variable.
type Workspace struct {
	Root      string
	Dir       string
	Remote    string
	Temporary string
	Download  string
}

// New creates the folders of variable under root. Existing folders are
// reused.
func New(root, variable string) (*Workspace, error) {
	if variable == "" {
		return nil, errors.New("workspace: empty variable")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("workspace: %w", err)
	}
	dir := filepath.Join(abs, Folder, variable)
	ws := &Workspace{
		Root:      abs,
		Dir:       dir,
		Remote:    filepath.Join(dir, "remote"),
		Temporary: filepath.Join(dir, "temporary"),
		Download:  filepath.Join(dir, "download"),
	}
	for _, d := range []string{ws.Remote, ws.Temporary, ws.Download} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return nil, fmt.Errorf("workspace: %w", err)
		}
	}
	return ws, nil
}

// LogPath is the run log of a product: log-<product>-<variable>-<resolution>.txt.
func (w *Workspace) LogPath(key registry.Key) string {
	return filepath.Join(w.Dir, fmt.Sprintf("log-%s-%s-%s.txt", key.Product, key.Variable, key.Resolution))
}

// OpenLog opens the product log for appending.
func (w *Workspace) OpenLog(key registry.Key) (*os.File, error) {
	return os.OpenFile(w.LogPath(key), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
}

// ManifestPath is the Parquet run manifest of runID.
func (w *Workspace) ManifestPath(runID string) string {
	return filepath.Join(w.Dir, "manifest_"+runID+".parquet")
}

// Larger reports whether path is a regular file of more than limit bytes.
func Larger(path string, limit int64) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular() && info.Size() > limit
}

// Cleanup removes the entries of dir whose name contains substring and
// returns how many were removed. Errors on single entries are collected but
// do not stop the sweep. A missing dir is not an error.
func Cleanup(dir, substring string) (int, error) {
	if substring == "" {
		return 0, errors.New("workspace: refusing to clean up with an empty pattern")
	}
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	var errs []error
	removed := 0
	for _, e := range entries {
		if !strings.Contains(e.Name(), substring) {
			continue
		}
		if err := os.RemoveAll(filepath.Join(dir, e.Name())); err != nil {
			errs = append(errs, err)
			continue
		}
		removed++
	}
	return removed, errors.Join(errs...)
}
