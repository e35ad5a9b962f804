// Package store uploads rendered artifacts and returns a public URL.
//
// Three stores are available:
//
//   - [Cloudinary]: the hosted media service, returning its secure_url
//   - [GridFS]: a MongoDB GridFS bucket served by the rendermill server
//   - [File]: a local directory served by the rendermill server
//
// Use [New] to build the store named by a [Config]. Every store returned by
// New reports uploads to the observability hooks.
package store

import (
	"context"
	"io"
	"path"
	"strings"
	"time"

	errs "github.com/matzehuels/rendermill/pkg/errors"
	"github.com/matzehuels/rendermill/pkg/observability"
)

// =============================================================================
// Default Values
// =============================================================================

const (
	// DefaultFolder is the upload folder when a request names none.
	DefaultFolder = "mermaid-diagrams"

	// DefaultKind is the store used when the configuration names none.
	DefaultKind = KindCloudinary

	// DefaultUploadTimeout bounds a single upload.
	DefaultUploadTimeout = 30 * time.Second
)

// Store kinds.
const (
	KindCloudinary = "cloudinary"
	KindGridFS     = "gridfs"
	KindFile       = "file"
)

// UploadOptions describe where and as what an artifact is stored.
type UploadOptions struct {
	Folder string
	Format string
}

// Result is a successful upload.
type Result struct {
	SecureURL string `json:"secure_url"`
	PublicID  string `json:"public_id"`
}

// Store uploads artifact bytes. Failures carry UPLOAD_FAILURE.
type Store interface {
	Name() string
	Upload(ctx context.Context, data []byte, opts UploadOptions) (Result, error)
	Close(ctx context.Context) error
}

// Opener is implemented by stores whose artifacts the server hosts itself.
type Opener interface {
	Open(ctx context.Context, name string) (io.ReadCloser, error)
}

// CloudinaryConfig holds Cloudinary credentials. URL, when set, is a
// cloudinary:// URL and overrides the other fields.
type CloudinaryConfig struct {
	URL       string `toml:"url"`
	CloudName string `toml:"cloud_name"`
	APIKey    string `toml:"api_key"`
	APISecret string `toml:"api_secret"`
}

// GridFSConfig locates a GridFS bucket.
type GridFSConfig struct {
	URI      string `toml:"uri"`
	Database string `toml:"database"`
	Bucket   string `toml:"bucket"`
}

// Config selects and configures a store.
type Config struct {
	Kind          string           `toml:"kind"`
	Folder        string           `toml:"folder"`
	PublicURL     string           `toml:"public_url"`
	Dir           string           `toml:"dir"`
	UploadTimeout time.Duration    `toml:"upload_timeout"`
	Cloudinary    CloudinaryConfig `toml:"cloudinary"`
	GridFS        GridFSConfig     `toml:"gridfs"`
}

// ValidateAndSetDefaults fills in defaults and checks the selected store has
// what it needs.
func (c *Config) ValidateAndSetDefaults() error {
	if c.Kind == "" {
		c.Kind = DefaultKind
	}
	if c.Folder == "" {
		c.Folder = DefaultFolder
	}
	if c.UploadTimeout <= 0 {
		c.UploadTimeout = DefaultUploadTimeout
	}
	c.PublicURL = strings.TrimRight(c.PublicURL, "/")

	switch c.Kind {
	case KindCloudinary:
		cc := c.Cloudinary
		if cc.URL == "" && (cc.CloudName == "" || cc.APIKey == "" || cc.APISecret == "") {
			return errs.New(errs.ErrCodeInvalidInput, "cloudinary store needs a url or cloud name, api key and api secret")
		}
	case KindGridFS:
		if c.GridFS.URI == "" {
			return errs.New(errs.ErrCodeInvalidInput, "gridfs store needs a mongo uri")
		}
		if c.GridFS.Database == "" {
			c.GridFS.Database = "rendermill"
		}
		if c.GridFS.Bucket == "" {
			c.GridFS.Bucket = "artifacts"
		}
	case KindFile:
		if c.Dir == "" {
			return errs.New(errs.ErrCodeInvalidInput, "file store needs a directory")
		}
	default:
		return errs.New(errs.ErrCodeInvalidInput, "unknown store kind %q", c.Kind)
	}
	return nil
}

// New builds the configured store.
func New(ctx context.Context, cfg Config) (Store, error) {
	if err := cfg.ValidateAndSetDefaults(); err != nil {
		return nil, err
	}
	var (
		s   Store
		err error
	)
	switch cfg.Kind {
	case KindCloudinary:
		s, err = NewCloudinary(cfg.Cloudinary)
	case KindGridFS:
		s, err = NewGridFS(ctx, cfg.GridFS, cfg.PublicURL)
	case KindFile:
		s, err = NewFile(cfg.Dir, cfg.PublicURL)
	}
	if err != nil {
		return nil, err
	}
	return Instrument(s, cfg.UploadTimeout), nil
}

// Instrument wraps s so that every upload is bounded by timeout and
// reported to the store hooks. A zero timeout leaves ctx unchanged.
func Instrument(s Store, timeout time.Duration) Store {
	return &instrumented{Store: s, timeout: timeout}
}

type instrumented struct {
	Store
	timeout time.Duration
}

func (s *instrumented) Upload(ctx context.Context, data []byte, opts UploadOptions) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	start := time.Now()
	res, err := s.Store.Upload(ctx, data, opts)
	observability.Store().OnUpload(ctx, s.Name(), len(data), time.Since(start), err)
	return res, err
}

// Open forwards to the wrapped store when it hosts its own artifacts.
func (s *instrumented) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	o, ok := s.Store.(Opener)
	if !ok {
		return nil, errs.New(errs.ErrCodeNotFound, "store %s does not serve artifacts", s.Name())
	}
	return o.Open(ctx, name)
}

// Unwrap returns the wrapped store.
func (s *instrumented) Unwrap() Store { return s.Store }

// Serves reports whether s hosts its artifacts.
func Serves(s Store) bool {
	if w, ok := s.(interface{ Unwrap() Store }); ok {
		s = w.Unwrap()
	}
	_, ok := s.(Opener)
	return ok
}

// objectName builds "<folder>/<id>.<format>" with a cleaned folder.
func objectName(folder, id, format string) string {
	folder = cleanFolder(folder)
	name := id
	if format != "" {
		name += "." + format
	}
	if folder == "" {
		return name
	}
	return folder + "/" + name
}

// cleanFolder keeps folder inside the store root.
func cleanFolder(folder string) string {
	folder = strings.Trim(path.Clean("/"+folder), "/")
	if folder == "." {
		return ""
	}
	return folder
}

// publicURL joins base, the artifact route and name.
func publicURL(base, name string) string {
	return base + "/artifacts/" + name
}

func uploadFailure(err error, format string, args ...any) error {
	if errs.GetCode(err) != "" {
		return err
	}
	return errs.Wrap(errs.ErrCodeUploadFailure, err, format, args...)
}
