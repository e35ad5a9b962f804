package store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	errs "github.com/matzehuels/rendermill/pkg/errors"
)

// File writes artifacts into a local directory. The rendermill server serves
// them under /artifacts/.
type File struct {
	dir  string
	base string
}

// NewFile creates dir if needed. base is the server's public URL.
func NewFile(dir, base string) (*File, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errs.Wrap(errs.ErrCodeInternal, err, "create artifact dir")
	}
	return &File{dir: dir, base: base}, nil
}

func (f *File) Name() string { return KindFile }

func (f *File) Upload(ctx context.Context, data []byte, opts UploadOptions) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	if len(data) == 0 {
		return Result{}, errs.New(errs.ErrCodeUploadFailure, "refusing to upload empty artifact")
	}
	name := objectName(opts.Folder, uuid.NewString(), opts.Format)
	p := filepath.Join(f.dir, filepath.FromSlash(name))
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return Result{}, uploadFailure(err, "create folder")
	}
	if err := os.WriteFile(p, data, 0o644); err != nil {
		return Result{}, uploadFailure(err, "write artifact")
	}
	return Result{SecureURL: publicURL(f.base, name), PublicID: name}, nil
}

// Open returns the artifact stored under name.
func (f *File) Open(_ context.Context, name string) (io.ReadCloser, error) {
	clean := cleanFolder(name)
	if clean == "" {
		return nil, errs.New(errs.ErrCodeNotFound, "artifact not found")
	}
	r, err := os.Open(filepath.Join(f.dir, filepath.FromSlash(clean)))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, errs.New(errs.ErrCodeNotFound, "artifact %s not found", clean)
	}
	if err != nil {
		return nil, fmt.Errorf("open artifact: %w", err)
	}
	if info, err := r.Stat(); err == nil && info.IsDir() {
		r.Close()
		return nil, errs.New(errs.ErrCodeNotFound, "artifact %s not found", clean)
	}
	return r, nil
}

func (f *File) Close(context.Context) error { return nil }

var (
	_ Store  = (*File)(nil)
	_ Opener = (*File)(nil)
)
