package book

import (
	"bytes"
	"fmt"
	"image"
	"image/draw"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
	"go.uber.org/zap"

	"muepub/common"
)

// CoverThumbnail decodes the EPUB3 cover image (the manifest item whose
// properties carry "cover-image") and re-encodes it as a JPEG thumbnail
// bounded to maxW x maxH, optionally forcing grayscale for e-ink displays
// (§6 "cover thumbnail preparation").
//
// Only the EPUB3 cover-image property is consulted; an EPUB2
// <meta name="cover" content="..."> declaration is not recognized, since
// opf.Parse does not currently capture arbitrary <metadata><meta> pairs —
// a book whose only cover marker is the EPUB2 form returns a *common.Error
// of kind ErrIO.
func (b *Book) CoverThumbnail(maxW, maxH int, grayscale bool) ([]byte, error) {
	href := b.coverHref()
	if href == "" {
		return nil, common.NewError(common.ErrIO, fmt.Errorf("no cover-image manifest item declared"))
	}
	data, err := readEntry(b.zip, joinHref(b.rootBase, href))
	if err != nil {
		return nil, err
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, common.NewError(common.ErrIO, fmt.Errorf("decoding cover image %q: %w", href, err))
	}

	thumb := imaging.Fit(img, maxW, maxH, imaging.Lanczos)

	var out image.Image = thumb
	if grayscale && !isGrayscale(thumb) {
		gray := image.NewGray(thumb.Bounds())
		draw.Draw(gray, gray.Bounds(), thumb, thumb.Bounds().Min, draw.Src)
		out = gray
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, out, imaging.JPEG, imaging.JPEGQuality(85)); err != nil {
		return nil, common.NewError(common.ErrIO, fmt.Errorf("encoding cover thumbnail: %w", err))
	}
	b.log.Debug("prepared cover thumbnail", zap.Int("w", thumb.Bounds().Dx()), zap.Int("h", thumb.Bounds().Dy()), zap.Bool("grayscale", grayscale))
	return buf.Bytes(), nil
}

func (b *Book) coverHref() string {
	for _, item := range b.pkg.Manifest {
		if item.Properties["cover-image"] {
			return item.Href
		}
	}
	return ""
}

// isGrayscale reports whether every pixel has R==G==B, so an already
// monochrome thumbnail isn't needlessly re-quantized.
func isGrayscale(img image.Image) bool {
	switch img.(type) {
	case *image.Gray, *image.Gray16:
		return true
	}
	bnd := img.Bounds()
	for y := bnd.Min.Y; y < bnd.Max.Y; y++ {
		for x := bnd.Min.X; x < bnd.Max.X; x++ {
			r, g, bl, _ := img.At(x, y).RGBA()
			if r != g || g != bl {
				return false
			}
		}
	}
	return true
}
