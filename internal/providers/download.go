package providers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"golang.org/x/sync/singleflight"
)

// ErrShortPayload marks a transfer that produced no more than the minimum
// raw size. It is retried.
var ErrShortPayload = errors.New("short payload")

// ErrNoToken marks a tile whose provider token could not be resolved from
// the listing.
var ErrNoToken = errors.New("no tiles found")

// getFunc streams one object into w.
type getFunc func(ctx context.Context, obj *RemoteObject, w io.Writer) error

// fetchObjects downloads every resolved object of task with get, under the
// run's retry policy. Existing raw files above minBytes are kept and smaller
// payloads are retried.
func fetchObjects(ctx context.Context, run *RunContext, task *FetchTask, minBytes int64, get getFunc) *Transfer {
	logger := run.Log()
	tr := &Transfer{}
	for i := range task.Objects {
		obj := &task.Objects[i]
		if err := ctx.Err(); err != nil {
			tr.fail(err)
			continue
		}
		if !obj.Resolved() {
			err := fmt.Errorf("%s tile %s: %w", obj.URL, obj.Tile, ErrNoToken)
			if obj.resolveErr != nil {
				err = obj.resolveErr
			}
			logger.WarnContext(ctx, "tile unavailable", "date", task.Date.Format("2006-01-02"), "tile", obj.Tile, "error", err)
			tr.fail(err)
			continue
		}
		f, err := fetchObject(ctx, run, obj, minBytes, get)
		if err != nil {
			logger.WarnContext(ctx, "transfer failed",
				"date", task.Date.Format("2006-01-02"),
				"tile", obj.Tile,
				"url", obj.Target(),
				"error", err,
			)
			tr.fail(err)
			continue
		}
		tr.Files = append(tr.Files, f)
	}
	return tr
}

// inflight joins concurrent downloads of the same raw file, which happens
// when several dates of a run are served by one provider file.
var inflight singleflight.Group

// fetchObject downloads obj once per raw path. Callers that joined a download
// started by another task get the file back as Skipped so its bytes are
// counted once.
func fetchObject(ctx context.Context, run *RunContext, obj *RemoteObject, minBytes int64, get getFunc) (RawFile, error) {
	leader := false
	v, err, _ := inflight.Do(obj.Path, func() (any, error) {
		leader = true
		return downloadObject(ctx, run, obj, minBytes, get)
	})
	if err != nil {
		return RawFile{}, err
	}
	f := v.(RawFile)
	f.Object = *obj
	if !leader {
		f.Skipped = true
	}
	return f, nil
}

func downloadObject(ctx context.Context, run *RunContext, obj *RemoteObject, minBytes int64, get getFunc) (RawFile, error) {
	if info, err := os.Stat(obj.Path); err == nil && info.Size() > minBytes {
		return RawFile{Path: obj.Path, Bytes: info.Size(), Skipped: true}, nil
	}
	if err := os.MkdirAll(filepath.Dir(obj.Path), 0o755); err != nil {
		return RawFile{}, err
	}

	var n int64
	err := run.Retry.Do(ctx, obj.Target(), func(ctx context.Context) error {
		var err error
		n, err = saveAtomic(obj.Path, minBytes, func(w io.Writer) error {
			return get(ctx, obj, w)
		})
		return err
	})
	if err != nil {
		return RawFile{}, err
	}
	return RawFile{Path: obj.Path, Bytes: n}, nil
}

// saveAtomic writes through a unique <path>.*.part file and renames it into
// place when at least minBytes+1 bytes arrived.
func saveAtomic(path string, minBytes int64, fill func(io.Writer) error) (int64, error) {
	f, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.part")
	if err != nil {
		return 0, err
	}
	part := f.Name()
	cw := &countingWriter{w: f}
	if err := fill(cw); err != nil {
		f.Close()
		os.Remove(part)
		return cw.n, err
	}
	if err := f.Close(); err != nil {
		os.Remove(part)
		return cw.n, err
	}
	if cw.n <= minBytes {
		os.Remove(part)
		return cw.n, fmt.Errorf("%w: %d bytes", ErrShortPayload, cw.n)
	}
	if err := os.Rename(part, path); err != nil {
		os.Remove(part)
		return cw.n, err
	}
	return cw.n, nil
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}
