package derivative

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fruitsalade/studiovault/internal/objstore"
)

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		img.Set(x, 0, color.NRGBA{R: 255, A: 255})
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func newGenerator(t *testing.T) (*Generator, *objstore.LocalStore) {
	t.Helper()
	store, err := objstore.NewLocalStore(t.TempDir())
	require.NoError(t, err)
	return NewGenerator(store), store
}

func decodedSize(t *testing.T, store *objstore.LocalStore, key string) (int, int) {
	t.Helper()
	obj, err := store.Get(context.Background(), key)
	require.NoError(t, err)
	assert.Equal(t, "image/jpeg", obj.ContentType)
	img, err := imaging.Decode(bytes.NewReader(obj.Body))
	require.NoError(t, err)
	return img.Bounds().Dx(), img.Bounds().Dy()
}

func TestGenerateWritesEverySize(t *testing.T) {
	g, store := newGenerator(t)
	primary := "tenant-jane/session-beach/gallery/sunset.png"

	written, err := g.Generate(context.Background(), primary, pngBytes(t, 2400, 1200))
	require.NoError(t, err)
	require.Equal(t, []string{
		"tenant-jane/session-beach/thumbnails/small/sunset.png",
		"tenant-jane/session-beach/thumbnails/medium/sunset.png",
		"tenant-jane/session-beach/thumbnails/large/sunset.png",
	}, written)

	w, h := decodedSize(t, store, written[0])
	assert.Equal(t, 150, w)
	assert.Equal(t, 75, h)
	w, h = decodedSize(t, store, written[2])
	assert.Equal(t, 1200, w)
	assert.Equal(t, 600, h)
}

func TestGenerateDoesNotUpscale(t *testing.T) {
	g, store := newGenerator(t)
	written, err := g.Generate(context.Background(), "t/s/gallery/tiny.png", pngBytes(t, 100, 50))
	require.NoError(t, err)

	for _, key := range written {
		w, h := decodedSize(t, store, key)
		assert.Equal(t, 100, w, key)
		assert.Equal(t, 50, h, key)
	}
}

func TestGenerateRejectsUndecodableInput(t *testing.T) {
	g, store := newGenerator(t)
	_, err := g.Generate(context.Background(), "t/s/gallery/bad.jpg", []byte("not an image"))
	require.Error(t, err)

	listing, err := store.List(context.Background(), "t/")
	require.NoError(t, err)
	assert.Empty(t, listing)
}

func TestOrientationWithoutExif(t *testing.T) {
	assert.Equal(t, 1, Orientation(pngBytes(t, 4, 4)))
	assert.Equal(t, 1, Orientation(nil))
}

func TestApplyOrientation(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 20, 10))
	tests := []struct {
		orientation int
		w, h        int
	}{
		{1, 20, 10},
		{2, 20, 10},
		{3, 20, 10},
		{4, 20, 10},
		{5, 10, 20},
		{6, 10, 20},
		{7, 10, 20},
		{8, 10, 20},
		{0, 20, 10},
	}
	for _, tt := range tests {
		out := applyOrientation(img, tt.orientation)
		assert.Equal(t, tt.w, out.Bounds().Dx(), "orientation %d", tt.orientation)
		assert.Equal(t, tt.h, out.Bounds().Dy(), "orientation %d", tt.orientation)
	}
}
