package service

import (
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"os"

	_ "github.com/gen2brain/avif"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/disintegration/imaging"
)

// CLIP normalization constants for the model input transform.
var (
	ClipMean = [3]float32{0.48145466, 0.4578275, 0.40821073}
	ClipStd  = [3]float32{0.26862954, 0.26130258, 0.27577711}
)

// DecodedImage is the tensor-ready form of one input image. It is owned by
// the pipeline stage processing it and discarded after the batch flush.
type DecodedImage struct {
	// Tensor is the CHW float32 model input.
	Tensor []float32

	// Megapixels is the decoded pixel count, for reporting.
	Megapixels float64
}

// Guard decodes image files under a pixel budget. Oversized images are
// rejected from the declared header dimensions, before any full decode, so a
// decompression bomb never reaches the inference stage. All failures come
// back as per-image errors, never panics.
type Guard struct {
	maxPixels int64
	size      int
}

func NewGuard(maxPixels int64, size int) *Guard {
	return &Guard{maxPixels: maxPixels, size: size}
}

// Decode opens, checks, decodes and preprocesses one image file.
func (g *Guard) Decode(path string) (*DecodedImage, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load image: %v", err)
	}
	defer f.Close()

	cfg, _, err := image.DecodeConfig(f)
	if err != nil {
		return nil, fmt.Errorf("failed to load image: %v", err)
	}
	pixels := int64(cfg.Width) * int64(cfg.Height)
	if pixels > g.maxPixels {
		return nil, fmt.Errorf("image rejected for safety: %d pixels exceeds the maximum of %d", pixels, g.maxPixels)
	}

	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("failed to load image: %v", err)
	}
	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("failed to load image: %v", err)
	}

	return &DecodedImage{
		Tensor:     g.tensor(img),
		Megapixels: float64(pixels) / 1_000_000,
	}, nil
}

// tensor prepares the image for model input: pad to square on a white
// canvas, Lanczos resize, CLIP-normalize into CHW layout.
func (g *Guard) tensor(img image.Image) []float32 {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	maxDim := max(h, w)

	canvas := imaging.New(maxDim, maxDim, color.White)
	img = imaging.Paste(canvas, img, image.Pt((maxDim-w)/2, (maxDim-h)/2))
	img = imaging.Resize(img, g.size, g.size, imaging.Lanczos)

	size := g.size
	out := make([]float32, 3*size*size)
	rBase := 0
	gBase := size * size
	bBase := 2 * size * size

	for y := range size {
		for x := range size {
			r, gr, bl, _ := img.At(x, y).RGBA()
			fr := float32(r) / 65535.0
			fg := float32(gr) / 65535.0
			fb := float32(bl) / 65535.0

			out[rBase] = (fr - ClipMean[0]) / ClipStd[0]
			out[gBase] = (fg - ClipMean[1]) / ClipStd[1]
			out[bBase] = (fb - ClipMean[2]) / ClipStd[2]

			rBase++
			gBase++
			bBase++
		}
	}
	return out
}
