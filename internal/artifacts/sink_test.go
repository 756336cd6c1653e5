package artifacts

import (
	"bytes"
	"context"
	"image"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vpsrenew/internal/config"
)

func TestDirSinkRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := NewDirSink(t.TempDir())

	require.NoError(t, s.Put(ctx, "run1", "variants/otsu.png", []byte("a")))
	require.NoError(t, s.Put(ctx, "run1", "original.png", []byte("b")))
	require.NoError(t, s.Put(ctx, "run2", "x.txt", []byte("c")))

	got, err := s.Get(ctx, "run1", "variants/otsu.png")
	require.NoError(t, err)
	assert.Equal(t, []byte("a"), got)

	paths, err := s.List(ctx, "run1")
	require.NoError(t, err)
	assert.Equal(t, []string{"original.png", "variants/otsu.png"}, paths)

	_, err = s.Get(ctx, "run1", "missing.png")
	assert.ErrorIs(t, err, ErrNotFound)

	paths, err = s.List(ctx, "nothing")
	require.NoError(t, err)
	assert.Empty(t, paths)
}

func TestDirSinkRejectsBadKeys(t *testing.T) {
	ctx := context.Background()
	s := NewDirSink(t.TempDir())
	assert.Error(t, s.Put(ctx, "", "a.png", nil))
	assert.Error(t, s.Put(ctx, "run", " ", nil))
	assert.Error(t, s.Put(ctx, "run", "../../escape.png", nil))
}

func TestPutImage(t *testing.T) {
	ctx := context.Background()
	s := NewDirSink(t.TempDir())
	img := image.NewGray(image.Rect(0, 0, 4, 3))
	require.NoError(t, PutImage(ctx, s, "r", "g.png", img))

	data, err := s.Get(ctx, "r", "g.png")
	require.NoError(t, err)
	decoded, err := png.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, img.Bounds(), decoded.Bounds())

	assert.NoError(t, PutImage(ctx, nil, "r", "g.png", img))
}

func TestNew(t *testing.T) {
	s, err := New(config.ArtifactsConfig{Kind: "none"})
	require.NoError(t, err)
	assert.IsType(t, Nop{}, s)

	s, err = New(config.ArtifactsConfig{Kind: "dir", Dir: t.TempDir()})
	require.NoError(t, err)
	assert.IsType(t, &DirSink{}, s)

	_, err = New(config.ArtifactsConfig{Kind: "minio"})
	assert.Error(t, err, "minio without endpoint")

	s, err = New(config.ArtifactsConfig{Kind: "minio", Minio: config.MinioConfig{
		Endpoint: "localhost:9000", AccessKey: "a", SecretKey: "b", Bucket: "bk",
	}})
	require.NoError(t, err)
	assert.IsType(t, &MinioSink{}, s)

	_, err = New(config.ArtifactsConfig{Kind: "ftp"})
	assert.Error(t, err)
}

func TestContentType(t *testing.T) {
	assert.Equal(t, "image/png", contentType("a/b.PNG"))
	assert.Equal(t, "text/markdown", contentType("c.md"))
	assert.Equal(t, "application/octet-stream", contentType("blob"))
}
