package store

import (
	"bytes"
	"context"
	"errors"

	"github.com/cloudinary/cloudinary-go/v2"
	"github.com/cloudinary/cloudinary-go/v2/api/uploader"
	"github.com/google/uuid"

	errs "github.com/matzehuels/rendermill/pkg/errors"
)

// Cloudinary uploads artifacts to a Cloudinary account.
type Cloudinary struct {
	upload func(ctx context.Context, data []byte, params uploader.UploadParams) (*uploader.UploadResult, error)
}

// NewCloudinary builds a client from a cloudinary:// URL or explicit
// credentials.
func NewCloudinary(cfg CloudinaryConfig) (*Cloudinary, error) {
	var (
		cld *cloudinary.Cloudinary
		err error
	)
	if cfg.URL != "" {
		cld, err = cloudinary.NewFromURL(cfg.URL)
	} else {
		cld, err = cloudinary.NewFromParams(cfg.CloudName, cfg.APIKey, cfg.APISecret)
	}
	if err != nil {
		return nil, errs.Wrap(errs.ErrCodeInvalidInput, err, "cloudinary credentials")
	}
	cld.Config.URL.Secure = true

	return &Cloudinary{
		upload: func(ctx context.Context, data []byte, params uploader.UploadParams) (*uploader.UploadResult, error) {
			return cld.Upload.Upload(ctx, bytes.NewReader(data), params)
		},
	}, nil
}

func (c *Cloudinary) Name() string { return KindCloudinary }

// Upload sends data as an image resource into opts.Folder.
func (c *Cloudinary) Upload(ctx context.Context, data []byte, opts UploadOptions) (Result, error) {
	if len(data) == 0 {
		return Result{}, errs.New(errs.ErrCodeUploadFailure, "refusing to upload empty artifact")
	}
	params := uploader.UploadParams{
		PublicID:     uuid.NewString(),
		Folder:       cleanFolder(opts.Folder),
		Format:       opts.Format,
		ResourceType: "image",
	}
	resp, err := c.upload(ctx, data, params)
	if err != nil {
		return Result{}, uploadFailure(err, "cloudinary upload")
	}
	if resp == nil {
		return Result{}, errs.New(errs.ErrCodeUploadFailure, "cloudinary upload: empty response")
	}
	if resp.Error.Message != "" {
		return Result{}, uploadFailure(errors.New(resp.Error.Message), "cloudinary upload")
	}
	if resp.SecureURL == "" {
		return Result{}, errs.New(errs.ErrCodeUploadFailure, "cloudinary upload: response has no secure_url")
	}
	return Result{SecureURL: resp.SecureURL, PublicID: resp.PublicID}, nil
}

func (c *Cloudinary) Close(context.Context) error { return nil }

var _ Store = (*Cloudinary)(nil)
