// Package imagehash computes compact perceptual signatures for artwork so
// visually identical assets can be matched across providers without
// byte-exact comparison.
package imagehash

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"math/bits"
	"strconv"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
)

// HashBits is the signature width. Both hash variants pack into a single
// uint64 rendered as 16 hex characters.
const HashBits = 64

// Signature carries both perceptual hashes for one image. Average hash is
// robust to recompression; difference hash is robust to brightness shifts.
type Signature struct {
	Average    string
	Difference string
}

// Decode reads an image in any supported container format. WebP is handled
// explicitly because the stdlib registry does not know it.
func Decode(r io.Reader) (image.Image, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read image: %w", err)
	}
	return DecodeBytes(data)
}

// DecodeBytes decodes an in-memory image.
func DecodeBytes(data []byte) (image.Image, error) {
	if isWebP(data) {
		img, err := webp.Decode(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("decode webp: %w", err)
		}
		return img, nil
	}
	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	return img, nil
}

func isWebP(data []byte) bool {
	return len(data) >= 12 && bytes.Equal(data[0:4], []byte("RIFF")) && bytes.Equal(data[8:12], []byte("WEBP"))
}

// Compute derives both perceptual hashes from a decoded image.
func Compute(img image.Image) Signature {
	return Signature{
		Average:    AverageHash(img),
		Difference: DifferenceHash(img),
	}
}

// ComputeBytes decodes and hashes in one step.
func ComputeBytes(data []byte) (Signature, error) {
	img, err := DecodeBytes(data)
	if err != nil {
		return Signature{}, err
	}
	return Compute(img), nil
}

// AverageHash downsamples to 8x8 grayscale and sets a bit for each pixel
// brighter than the mean.
func AverageHash(img image.Image) string {
	pixels := grayGrid(img, 8, 8)
	var sum float64
	for _, v := range pixels {
		sum += v
	}
	avg := sum / float64(len(pixels))

	var hash uint64
	for i, v := range pixels {
		if v > avg {
			hash |= 1 << uint(63-i)
		}
	}
	return formatHash(hash)
}

// DifferenceHash downsamples to 9x8 grayscale and sets a bit where each pixel
// is brighter than its right neighbor, capturing the gradient structure.
func DifferenceHash(img image.Image) string {
	pixels := grayGrid(img, 9, 8)
	var hash uint64
	bit := 0
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			left := pixels[y*9+x]
			right := pixels[y*9+x+1]
			if left > right {
				hash |= 1 << uint(63-bit)
			}
			bit++
		}
	}
	return formatHash(hash)
}

// HammingDistance counts differing bits between two hex hashes. Returns -1
// when the hashes are not comparable.
func HammingDistance(a, b string) int {
	if len(a) != len(b) || a == "" {
		return -1
	}
	av, err := strconv.ParseUint(a, 16, 64)
	if err != nil {
		return -1
	}
	bv, err := strconv.ParseUint(b, 16, 64)
	if err != nil {
		return -1
	}
	return bits.OnesCount64(av ^ bv)
}

// Similarity returns a 0-1 score where 1 means bit-identical signatures.
func Similarity(a, b string) float64 {
	dist := HammingDistance(a, b)
	if dist < 0 {
		return 0
	}
	return 1.0 - float64(dist)/float64(HashBits)
}

// Analysis summarizes the structural properties scoring cares about.
type Analysis struct {
	Width           int
	Height          int
	HasAlpha        bool
	ForegroundRatio float64
	Signature       Signature
}

// ErrEmptyImage indicates a zero-dimension decode result.
var ErrEmptyImage = errors.New("image has no pixels")

// Analyze decodes an image and extracts dimensions, transparency, the share
// of non-background pixels, and both perceptual hashes.
func Analyze(data []byte) (Analysis, error) {
	img, err := DecodeBytes(data)
	if err != nil {
		return Analysis{}, err
	}
	bounds := img.Bounds()
	if bounds.Dx() == 0 || bounds.Dy() == 0 {
		return Analysis{}, ErrEmptyImage
	}
	return Analysis{
		Width:           bounds.Dx(),
		Height:          bounds.Dy(),
		HasAlpha:        hasAlpha(img),
		ForegroundRatio: foregroundRatio(img),
		Signature:       Compute(img),
	}, nil
}

func hasAlpha(img image.Image) bool {
	bounds := img.Bounds()
	// Sample a coarse grid rather than every pixel; transparency in artwork
	// is never confined to a handful of pixels.
	stepX := max(bounds.Dx()/32, 1)
	stepY := max(bounds.Dy()/32, 1)
	for y := bounds.Min.Y; y < bounds.Max.Y; y += stepY {
		for x := bounds.Min.X; x < bounds.Max.X; x += stepX {
			_, _, _, a := img.At(x, y).RGBA()
			if a < 0xffff {
				return true
			}
		}
	}
	return false
}

// foregroundRatio estimates how much of the image is subject rather than
// flat background, using a 32x32 downsample and the mean-luminance split the
// hashes already rely on.
func foregroundRatio(img image.Image) float64 {
	pixels := grayGrid(img, 32, 32)
	var sum float64
	for _, v := range pixels {
		sum += v
	}
	avg := sum / float64(len(pixels))

	var foreground int
	for _, v := range pixels {
		if v > avg {
			foreground++
		}
	}
	return float64(foreground) / float64(len(pixels))
}

func grayGrid(img image.Image, w, h int) []float64 {
	small := imaging.Resize(img, w, h, imaging.Lanczos)
	pixels := make([]float64, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			pixels[y*w+x] = float64(color.GrayModel.Convert(small.At(x, y)).(color.Gray).Y)
		}
	}
	return pixels
}

func formatHash(hash uint64) string {
	return fmt.Sprintf("%016x", hash)
}
