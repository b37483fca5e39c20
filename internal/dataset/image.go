package dataset

import (
	"fmt"
	"image"
	_ "image/jpeg" // register decoders
	_ "image/png"
	"os"
	"path/filepath"

	"golang.org/x/image/draw"
)

// ImageNet channel statistics used to normalize RGB inputs.
var (
	channelMean = [3]float32{0.485, 0.456, 0.406}
	channelStd  = [3]float32{0.229, 0.224, 0.225}
)

// ImageSource produces the normalized CHW pixels of one image.
type ImageSource interface {
	Load(path string) ([]float32, error)
}

// FileSource decodes JPEG/PNG files under Dir and resizes them to
// Height x Width.
type FileSource struct {
	Dir    string
	Height int
	Width  int
}

// Load implements ImageSource.
func (s FileSource) Load(path string) ([]float32, error) {
	if !filepath.IsAbs(path) && s.Dir != "" {
		path = filepath.Join(s.Dir, path)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open image: %w", err)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode image %s: %w", path, err)
	}
	return Normalize(Resize(img, s.Height, s.Width)), nil
}

// Resize scales img to height x width with bilinear filtering.
func Resize(img image.Image, height, width int) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.BiLinear.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Src, nil)
	return dst
}

// Normalize converts img to a [3, H, W] float32 slice scaled to [0, 1] and
// standardized per channel.
func Normalize(img *image.RGBA) []float32 {
	b := img.Bounds()
	h, w := b.Dy(), b.Dx()
	plane := h * w
	out := make([]float32, 3*plane)

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			off := img.PixOffset(b.Min.X+x, b.Min.Y+y)
			pix := img.Pix[off : off+3]
			for c := 0; c < 3; c++ {
				v := float32(pix[c]) / 255
				out[c*plane+y*w+x] = (v - channelMean[c]) / channelStd[c]
			}
		}
	}
	return out
}
