// Package preview renders the first pages of an uploaded PDF as images.
package preview

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/cloudinary/cloudinary-go/v2"
	"github.com/cloudinary/cloudinary-go/v2/api/uploader"
	"go.uber.org/zap"

	"github.com/noah-isme/archivia-api/pkg/config"
)

// MaxPages bounds how many preview images are produced per document.
const MaxPages = 4

// Renderer turns document bytes into preview image URLs. Failures degrade to
// an empty list.
type Renderer interface {
	Render(ctx context.Context, data []byte, name string) []string
}

type uploadAPI interface {
	Upload(ctx context.Context, file interface{}, params uploader.UploadParams) (*uploader.UploadResult, error)
}

// pageURL builds the delivery URL of one rendered page.
type pageURL func(publicID string, page int) (string, error)

// CloudinaryRenderer uploads the PDF once and derives per-page JPG URLs.
type CloudinaryRenderer struct {
	upload   uploadAPI
	pageURL  pageURL
	folder   string
	maxPages int
	logger   *zap.Logger
}

// New returns a Cloudinary-backed renderer, or a Noop renderer when
// credentials are absent.
func New(cfg config.PreviewConfig, logger *zap.Logger) (Renderer, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.CloudName == "" || cfg.APIKey == "" || cfg.APISecret == "" {
		logger.Warn("preview rendering disabled, cloudinary not configured")
		return Noop{}, nil
	}
	cld, err := cloudinary.NewFromParams(cfg.CloudName, cfg.APIKey, cfg.APISecret)
	if err != nil {
		return nil, fmt.Errorf("init cloudinary: %w", err)
	}
	maxPages := cfg.MaxPages
	if maxPages <= 0 || maxPages > MaxPages {
		maxPages = MaxPages
	}
	return &CloudinaryRenderer{
		upload: &cld.Upload,
		pageURL: func(publicID string, page int) (string, error) {
			img, err := cld.Image(publicID)
			if err != nil {
				return "", err
			}
			img.Transformation = fmt.Sprintf("pg_%d,w_800,q_auto,f_jpg", page)
			return img.String()
		},
		folder:   cfg.Folder,
		maxPages: maxPages,
		logger:   logger,
	}, nil
}

func (r *CloudinaryRenderer) Render(ctx context.Context, data []byte, name string) []string {
	urls, err := r.render(ctx, data, name)
	if err != nil {
		r.logger.Warn("preview generation failed", zap.String("file", name), zap.Error(err))
		return []string{}
	}
	return urls
}

func (r *CloudinaryRenderer) render(ctx context.Context, data []byte, name string) ([]string, error) {
	if len(data) == 0 {
		return nil, errors.New("empty document")
	}
	resp, err := r.upload.Upload(ctx, bytes.NewReader(data), uploader.UploadParams{
		PublicID:     publicID(name),
		Folder:       r.folder,
		ResourceType: "image",
	})
	if err != nil {
		return nil, err
	}
	if resp == nil {
		return nil, errors.New("empty upload response")
	}
	if resp.Error.Message != "" {
		return nil, errors.New(resp.Error.Message)
	}

	pages := resp.Pages
	if pages <= 0 {
		pages = 1
	}
	if pages > r.maxPages {
		pages = r.maxPages
	}

	urls := make([]string, 0, pages)
	for page := 1; page <= pages; page++ {
		u, err := r.pageURL(resp.PublicID, page)
		if err != nil {
			return nil, fmt.Errorf("build page %d url: %w", page, err)
		}
		urls = append(urls, u)
	}
	return urls, nil
}

func publicID(name string) string {
	base := strings.TrimSuffix(name, ".pdf")
	base = strings.TrimSuffix(base, ".PDF")
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, base)
}

// Noop renders nothing.
type Noop struct{}

func (Noop) Render(context.Context, []byte, string) []string { return []string{} }
