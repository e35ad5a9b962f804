package store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/gridfs"
	"go.mongodb.org/mongo-driver/mongo/options"

	errs "github.com/matzehuels/rendermill/pkg/errors"
)

// GridFS stores artifacts in a MongoDB GridFS bucket. The rendermill server
// serves them under /artifacts/.
//
// Bucket deadlines are plain fields on *gridfs.Bucket, so every call builds
// its own bucket handle instead of sharing one between requests.
type GridFS struct {
	client *mongo.Client
	db     *mongo.Database
	name   string
	base   string
}

// NewGridFS connects to MongoDB and opens the bucket.
func NewGridFS(ctx context.Context, cfg GridFSConfig, base string) (*GridFS, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, errs.Wrap(errs.ErrCodeInternal, err, "connect mongo")
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, errs.Wrap(errs.ErrCodeInternal, err, "ping mongo")
	}
	g := &GridFS{client: client, db: client.Database(cfg.Database), name: cfg.Bucket, base: base}
	if _, err := g.bucket(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, errs.Wrap(errs.ErrCodeInternal, err, "open gridfs bucket")
	}
	return g, nil
}

// bucket returns a bucket handle private to one call, with ctx's deadline
// applied to reads and writes.
func (g *GridFS) bucket(ctx context.Context) (*gridfs.Bucket, error) {
	b, err := gridfs.NewBucket(g.db, options.GridFSBucket().SetName(g.name))
	if err != nil {
		return nil, err
	}
	if dl, ok := ctx.Deadline(); ok {
		if err := b.SetWriteDeadline(dl); err != nil {
			return nil, err
		}
		if err := b.SetReadDeadline(dl); err != nil {
			return nil, err
		}
	}
	return b, nil
}

func (g *GridFS) Name() string { return KindGridFS }

// Upload stores data under "<folder>/<uuid>.<format>".
func (g *GridFS) Upload(ctx context.Context, data []byte, opts UploadOptions) (Result, error) {
	if len(data) == 0 {
		return Result{}, errs.New(errs.ErrCodeUploadFailure, "refusing to upload empty artifact")
	}
	bucket, err := g.bucket(ctx)
	if err != nil {
		return Result{}, uploadFailure(err, "gridfs bucket")
	}
	name := objectName(opts.Folder, uuid.NewString(), opts.Format)
	meta := options.GridFSUpload().SetMetadata(bson.D{
		{Key: "format", Value: opts.Format},
		{Key: "folder", Value: cleanFolder(opts.Folder)},
		{Key: "uploaded_at", Value: time.Now().UTC()},
	})
	if _, err := bucket.UploadFromStream(name, bytes.NewReader(data), meta); err != nil {
		return Result{}, uploadFailure(err, "gridfs upload")
	}
	return Result{SecureURL: publicURL(g.base, name), PublicID: name}, nil
}

// Open reads the artifact stored under name into memory.
func (g *GridFS) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	bucket, err := g.bucket(ctx)
	if err != nil {
		return nil, fmt.Errorf("gridfs bucket: %w", err)
	}
	var buf bytes.Buffer
	if _, err := bucket.DownloadToStreamByName(cleanFolder(name), &buf); err != nil {
		if errors.Is(err, gridfs.ErrFileNotFound) {
			return nil, errs.New(errs.ErrCodeNotFound, "artifact %s not found", name)
		}
		return nil, fmt.Errorf("gridfs download: %w", err)
	}
	return io.NopCloser(&buf), nil
}

func (g *GridFS) Close(ctx context.Context) error {
	return g.client.Disconnect(ctx)
}

var (
	_ Store  = (*GridFS)(nil)
	_ Opener = (*GridFS)(nil)
)
