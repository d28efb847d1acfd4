// Package writer persists assembled images.
//
// Files are msgpack containers of one or more HDUs, written to a temporary
// name and renamed into place so a reader never sees a partial file.
package writer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/vk/simgrid/internal/ctxlog"
	"github.com/vk/simgrid/internal/layer"
	"github.com/vmihailenco/msgpack/v5"
)

// ErrWrite is matched by every WriteError.
var ErrWrite = errors.New("write failed")

// WriteError reports a failed write of one file.
type WriteError struct {
	Path string
	Op   string
	Err  error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("failed to %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

func (e *WriteError) Is(target error) bool { return target == ErrWrite }

// Container kinds.
const (
	KindSingle = "single"
	KindMulti  = "multi"
	KindCube   = "cube"
)

// HDU is one stored image.
type HDU struct {
	Width  int       `msgpack:"width"`
	Height int       `msgpack:"height"`
	Pix    []float64 `msgpack:"pix"`
}

// Container is the on-disk layout of a file.
type Container struct {
	Kind string `msgpack:"kind"`
	HDUs []HDU  `msgpack:"hdus"`
}

// Writer is the file-writing collaborator.
type Writer interface {
	WriteSingle(ctx context.Context, img *layer.Image, path string) error
	WriteMultiExtension(ctx context.Context, imgs []*layer.Image, path string) error
	WriteCube(ctx context.Context, imgs []*layer.Image, path string) error
}

// File writes containers to the local filesystem.
type File struct{}

// WriteSingle implements Writer.
func (File) WriteSingle(ctx context.Context, img *layer.Image, path string) error {
	return write(ctx, KindSingle, []*layer.Image{img}, path)
}

// WriteMultiExtension implements Writer.
func (File) WriteMultiExtension(ctx context.Context, imgs []*layer.Image, path string) error {
	return write(ctx, KindMulti, imgs, path)
}

// WriteCube implements Writer. All planes must have the same size.
func (File) WriteCube(ctx context.Context, imgs []*layer.Image, path string) error {
	for i, im := range imgs[min(1, len(imgs)):] {
		if !im.SameSize(imgs[0]) {
			return &WriteError{Path: path, Op: "write cube", Err: fmt.Errorf("plane %d is %s, plane 0 is %s", i+1, im, imgs[0])}
		}
	}
	return write(ctx, KindCube, imgs, path)
}

func write(ctx context.Context, kind string, imgs []*layer.Image, path string) error {
	if len(imgs) == 0 {
		return &WriteError{Path: path, Op: "write", Err: errors.New("no images")}
	}
	c := Container{Kind: kind, HDUs: make([]HDU, 0, len(imgs))}
	for i, im := range imgs {
		if im == nil {
			return &WriteError{Path: path, Op: "write", Err: fmt.Errorf("hdu %d is missing", i)}
		}
		c.HDUs = append(c.HDUs, HDU{Width: im.Width, Height: im.Height, Pix: im.Pix})
	}

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return &WriteError{Path: path, Op: "create directory for", Err: err}
		}
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return &WriteError{Path: path, Op: "create", Err: err}
	}
	defer os.Remove(tmp.Name())

	if err := msgpack.NewEncoder(tmp).Encode(&c); err != nil {
		tmp.Close()
		return &WriteError{Path: path, Op: "encode", Err: err}
	}
	if err := tmp.Close(); err != nil {
		return &WriteError{Path: path, Op: "close", Err: err}
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return &WriteError{Path: path, Op: "rename", Err: err}
	}

	ctxlog.FromContext(ctx).Debug("Wrote file.", "path", path, "kind", kind, "hdus", len(c.HDUs))
	return nil
}

// Read loads a container written by File.
func Read(path string) (*Container, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var c Container
	if err := msgpack.NewDecoder(f).Decode(&c); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return &c, nil
}

// Uploader copies a written file somewhere else.
type Uploader interface {
	Upload(ctx context.Context, path string) error
}

// Mirrored writes through Writer and then uploads the file.
type Mirrored struct {
	Writer   Writer
	Uploader Uploader
}

func (m Mirrored) WriteSingle(ctx context.Context, img *layer.Image, path string) error {
	if err := m.Writer.WriteSingle(ctx, img, path); err != nil {
		return err
	}
	return m.upload(ctx, path)
}

func (m Mirrored) WriteMultiExtension(ctx context.Context, imgs []*layer.Image, path string) error {
	if err := m.Writer.WriteMultiExtension(ctx, imgs, path); err != nil {
		return err
	}
	return m.upload(ctx, path)
}

func (m Mirrored) WriteCube(ctx context.Context, imgs []*layer.Image, path string) error {
	if err := m.Writer.WriteCube(ctx, imgs, path); err != nil {
		return err
	}
	return m.upload(ctx, path)
}

func (m Mirrored) upload(ctx context.Context, path string) error {
	if err := m.Uploader.Upload(ctx, path); err != nil {
		return &WriteError{Path: path, Op: "upload", Err: err}
	}
	return nil
}
