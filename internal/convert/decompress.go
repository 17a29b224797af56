package convert

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zip"
	"github.com/klauspost/compress/zstd"
	"github.com/klauspost/pgzip"
)

// parallelGzipThreshold is the compressed size above which gzip members are
// inflated with pgzip across all cores.
const parallelGzipThreshold = 64 << 20

// Decompress unpacks src into dir according to compression ("gz", "zst",
// "zip" or empty). name is the rendered temporary filename: the output file
// for gz/zst, or the member path to return for zip archives. With no
// compression src is returned unchanged. An existing non-empty output is
// reused.
func Decompress(ctx context.Context, src, dir, compression, name string) (string, error) {
	switch compression {
	case "", "none":
		return src, nil
	case "gz", "zst":
		if name == "" {
			name = strings.TrimSuffix(filepath.Base(src), filepath.Ext(src))
		}
		out := filepath.Join(dir, name)
		if nonEmpty(out) {
			return out, nil
		}
		return out, inflateFile(ctx, src, out, compression)
	case "zip":
		root := filepath.Join(dir, strings.TrimSuffix(filepath.Base(src), ".zip"))
		if err := unzip(ctx, src, root); err != nil {
			return "", err
		}
		if name == "" {
			return root, nil
		}
		return filepath.Join(root, name), nil
	default:
		return "", fmt.Errorf("unsupported compression %q", compression)
	}
}

func nonEmpty(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Size() > 0
}

func inflateFile(ctx context.Context, src, dst, compression string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}

	var r io.Reader
	switch compression {
	case "gz":
		if info.Size() > parallelGzipThreshold {
			gz, err := pgzip.NewReaderN(in, 256*1024, runtime.NumCPU())
			if err != nil {
				return fmt.Errorf("opening gzip %s: %w", src, err)
			}
			defer gz.Close()
			r = gz
		} else {
			gz, err := gzip.NewReader(bufio.NewReader(in))
			if err != nil {
				return fmt.Errorf("opening gzip %s: %w", src, err)
			}
			defer gz.Close()
			r = gz
		}
	case "zst":
		dec, err := zstd.NewReader(in, zstd.WithDecoderConcurrency(1))
		if err != nil {
			return fmt.Errorf("opening zstd %s: %w", src, err)
		}
		defer dec.Close()
		r = dec
	}

	return writeAtomic(dst, func(w io.Writer) error {
		_, err := io.Copy(w, ctxReader{ctx: ctx, r: r})
		return err
	})
}

func unzip(ctx context.Context, src, root string) error {
	zr, err := zip.OpenReader(src)
	if err != nil {
		return fmt.Errorf("opening zip %s: %w", src, err)
	}
	defer zr.Close()

	for _, f := range zr.File {
		if err := ctx.Err(); err != nil {
			return err
		}
		target := filepath.Join(root, f.Name)
		if !strings.HasPrefix(target, filepath.Clean(root)+string(os.PathSeparator)) {
			return fmt.Errorf("zip member %q escapes %s", f.Name, root)
		}
		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
			continue
		}
		if nonEmpty(target) {
			continue
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}
		rc, err := f.Open()
		if err != nil {
			return fmt.Errorf("reading zip member %s: %w", f.Name, err)
		}
		err = writeAtomic(target, func(w io.Writer) error {
			_, err := io.Copy(w, rc)
			return err
		})
		rc.Close()
		if err != nil {
			return err
		}
	}
	return nil
}

// writeAtomic writes through a unique <path>.*.part file and renames on
// success. Concurrent tasks inflating one shared archive each rename a
// complete copy.
func writeAtomic(path string, fill func(io.Writer) error) error {
	f, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.part")
	if err != nil {
		return err
	}
	part := f.Name()
	if err := fill(f); err != nil {
		f.Close()
		os.Remove(part)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(part)
		return err
	}
	if err := os.Rename(part, path); err != nil {
		os.Remove(part)
		return err
	}
	return nil
}

// ctxReader stops a long copy when the context ends.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
