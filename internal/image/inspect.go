package image

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
)

// MaxImageDimension is the maximum allowed width or height.
const MaxImageDimension = 8192

var (
	// ErrInvalidDimensions indicates width or height is not positive or too large
	ErrInvalidDimensions = errors.New("invalid dimensions: width and height must be between 1 and 8192")
	// ErrUnknownFormat indicates data that no registered decoder understands
	ErrUnknownFormat = errors.New("unknown image format")
)

// Info describes an encoded image.
type Info struct {
	Format string `json:"format"` // "png", "jpeg" or "gif"
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

// Inspect reads the image header of data without decoding pixels.
func Inspect(data []byte) (Info, error) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		if errors.Is(err, image.ErrFormat) {
			return Info{}, ErrUnknownFormat
		}
		return Info{}, fmt.Errorf("%w: %v", ErrUnknownFormat, err)
	}

	if cfg.Width <= 0 || cfg.Height <= 0 || cfg.Width > MaxImageDimension || cfg.Height > MaxImageDimension {
		return Info{}, ErrInvalidDimensions
	}

	return Info{Format: format, Width: cfg.Width, Height: cfg.Height}, nil
}
