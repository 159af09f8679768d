// Package derivative writes the resized JPEG renditions of image assets.
package derivative

import (
	"bytes"
	"context"
	"fmt"
	"image"

	"github.com/disintegration/imaging"
	"github.com/rwcarlsen/goexif/exif"
	"go.uber.org/zap"

	"github.com/fruitsalade/studiovault/internal/keys"
	"github.com/fruitsalade/studiovault/internal/logging"
)

// Quality is the JPEG quality of every rendition.
const Quality = 80

// Putter writes objects.
type Putter interface {
	Put(ctx context.Context, key string, body []byte, contentType string, metadata map[string]string) (string, error)
}

// Generator renders and stores derivatives.
type Generator struct {
	store Putter
	sizes []keys.Size
}

// NewGenerator creates a Generator writing every size in keys.Sizes.
func NewGenerator(store Putter) *Generator {
	return &Generator{store: store, sizes: keys.Sizes}
}

// Generate decodes body, corrects its EXIF orientation and writes one JPEG
// per size next to primaryKey. It returns the keys written. Images smaller
// than a size are stored at their own dimensions.
func (g *Generator) Generate(ctx context.Context, primaryKey string, body []byte) ([]string, error) {
	img, err := imaging.Decode(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", primaryKey, err)
	}
	img = applyOrientation(img, Orientation(body))

	written := make([]string, 0, len(g.sizes))
	for _, size := range g.sizes {
		thumb := imaging.Fit(img, size.Pixels, size.Pixels, imaging.Lanczos)

		var buf bytes.Buffer
		if err := imaging.Encode(&buf, thumb, imaging.JPEG, imaging.JPEGQuality(Quality)); err != nil {
			return written, fmt.Errorf("encode %s %s: %w", primaryKey, size.Name, err)
		}

		key := keys.DerivativeKey(primaryKey, size)
		if _, err := g.store.Put(ctx, key, buf.Bytes(), "image/jpeg", nil); err != nil {
			return written, fmt.Errorf("store %s: %w", key, err)
		}
		written = append(written, key)
	}

	logging.Debug("derivatives written",
		zap.String("key", primaryKey),
		zap.Int("count", len(written)))
	return written, nil
}

// Orientation returns the EXIF orientation of an image, 1 when absent.
func Orientation(body []byte) int {
	x, err := exif.Decode(bytes.NewReader(body))
	if err != nil {
		return 1
	}
	tag, err := x.Get(exif.Orientation)
	if err != nil {
		return 1
	}
	if v, err := tag.Int(0); err == nil && v >= 1 && v <= 8 {
		return v
	}
	return 1
}

func applyOrientation(img image.Image, orientation int) image.Image {
	switch orientation {
	case 2:
		return imaging.FlipH(img)
	case 3:
		return imaging.Rotate180(img)
	case 4:
		return imaging.FlipV(img)
	case 5:
		return imaging.Transpose(img)
	case 6:
		return imaging.Rotate270(img)
	case 7:
		return imaging.Transverse(img)
	case 8:
		return imaging.Rotate90(img)
	default:
		return img
	}
}
