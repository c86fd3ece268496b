// package common contains common types that are used throughout this engine. They are not interface-wrapped structs, just plain structs that express
// commonly used data-types.
package common

import (
	"bytes"
	"fmt"
	"image"
	"image/draw"
	_ "image/jpeg"
	_ "image/png"
	"os"
)

// Extent2D is a width/height pair in pixels, used for surfaces, images,
// and viewport sizing.
type Extent2D struct {
	Width  uint32
	Height uint32
}

// IsZero reports whether either dimension is zero (e.g. a minimized window).
//
// Returns:
//   - bool: true if width or height is zero
func (e Extent2D) IsZero() bool {
	return e.Width == 0 || e.Height == 0
}

// TextureData holds decoded RGBA pixel data pending GPU upload.
type TextureData struct {
	// Pixels is the byte slice representing the actual pixel data for the texture. It should be in RGBA format, with 4 bytes per pixel.
	Pixels []byte
	// Width is the width of the texture in pixels. This is required to correctly create the GPU texture and interpret the pixel data.
	Width uint32
	// Height is the height of the texture in pixels. This is required to correctly create the GPU texture and interpret the pixel data.
	Height uint32
}

// DecodeImageRGBA decodes raw PNG/JPEG bytes, or the file at path when data
// is empty, into tightly packed RGBA pixel data.
// Reference: https://pkg.go.dev/image
//
// Parameters:
//   - data: raw image bytes (PNG/JPEG), may be nil
//   - path: file path to load from when data is empty
//
// Returns:
//   - *TextureData: decoded RGBA pixels with dimensions
//   - error: error if decoding fails
func DecodeImageRGBA(data []byte, path string) (*TextureData, error) {
	var img image.Image
	var err error

	if len(data) > 0 {
		img, _, err = image.Decode(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("failed to decode embedded image: %w", err)
		}
	} else if path != "" {
		file, fileErr := os.Open(path)
		if fileErr != nil {
			return nil, fmt.Errorf("failed to open texture file %s: %w", path, fileErr)
		}
		defer file.Close()

		img, _, err = image.Decode(file)
		if err != nil {
			return nil, fmt.Errorf("failed to decode texture file %s: %w", path, err)
		}
	} else {
		return nil, fmt.Errorf("texture has neither data nor path")
	}

	bounds := img.Bounds()
	rgba := image.NewRGBA(bounds)
	draw.Draw(rgba, bounds, img, bounds.Min, draw.Src)

	return &TextureData{
		Pixels: rgba.Pix,
		Width:  uint32(bounds.Dx()),
		Height: uint32(bounds.Dy()),
	}, nil
}
