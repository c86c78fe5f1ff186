package preview

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/cloudinary/cloudinary-go/v2/api/uploader"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/archivia-api/pkg/config"
)

type uploadStub struct {
	result *uploader.UploadResult
	err    error
	params uploader.UploadParams
}

func (s *uploadStub) Upload(ctx context.Context, file interface{}, params uploader.UploadParams) (*uploader.UploadResult, error) {
	s.params = params
	return s.result, s.err
}

func newRenderer(stub *uploadStub) *CloudinaryRenderer {
	return &CloudinaryRenderer{
		upload: stub,
		pageURL: func(publicID string, page int) (string, error) {
			return fmt.Sprintf("https://cdn.test/pg_%d/%s.jpg", page, publicID), nil
		},
		folder:   "previews",
		maxPages: MaxPages,
		logger:   zap.NewNop(),
	}
}

func TestRenderCapsAtFourPages(t *testing.T) {
	stub := &uploadStub{result: &uploader.UploadResult{PublicID: "previews/paper", Pages: 9}}
	urls := newRenderer(stub).Render(context.Background(), []byte("%PDF"), "My Paper.pdf")

	require.Len(t, urls, 4)
	assert.Equal(t, "https://cdn.test/pg_1/previews/paper.jpg", urls[0])
	assert.Equal(t, "My_Paper", stub.params.PublicID)
	assert.Equal(t, "previews", stub.params.Folder)
}

func TestRenderDegradesToEmpty(t *testing.T) {
	urls := newRenderer(&uploadStub{err: errors.New("quota")}).Render(context.Background(), []byte("%PDF"), "a.pdf")
	assert.NotNil(t, urls)
	assert.Empty(t, urls)

	urls = newRenderer(&uploadStub{}).Render(context.Background(), nil, "a.pdf")
	assert.Empty(t, urls)
}

func TestNewWithoutCredentialsIsNoop(t *testing.T) {
	r, err := New(config.PreviewConfig{}, nil)
	require.NoError(t, err)
	assert.Equal(t, Noop{}, r)
	assert.Empty(t, r.Render(context.Background(), []byte("x"), "x.pdf"))
}

func TestNewWithCredentialsBuildsCloudinaryRenderer(t *testing.T) {
	r, err := New(config.PreviewConfig{CloudName: "demo", APIKey: "key", APISecret: "secret", Folder: "previews", MaxPages: 10}, nil)
	require.NoError(t, err)

	renderer, ok := r.(*CloudinaryRenderer)
	require.True(t, ok, "expected *CloudinaryRenderer, got %T", r)
	assert.NotNil(t, renderer.upload)
	assert.Equal(t, MaxPages, renderer.maxPages)
	assert.Equal(t, "previews", renderer.folder)

	url, err := renderer.pageURL("previews/paper", 2)
	require.NoError(t, err)
	assert.Contains(t, url, "demo")
	assert.Contains(t, url, "pg_2")
}
