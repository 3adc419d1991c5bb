// Package qrcode renders booking codes as PNG images for vendor emails.
package qrcode

import (
	"fmt"

	"github.com/skip2/go-qrcode"
)

// DefaultSize is the edge length in pixels used for booking emails
const DefaultSize = 256

// Renderer renders text into a square PNG QR code
type Renderer struct {
	level qrcode.RecoveryLevel
}

// NewRenderer creates a renderer with medium error correction
func NewRenderer() *Renderer {
	return &Renderer{level: qrcode.Medium}
}

// Render encodes text as a size x size PNG. The output is deterministic for
// a given text and size.
func (r *Renderer) Render(text string, size int) ([]byte, error) {
	if text == "" {
		return nil, fmt.Errorf("qr payload is empty")
	}
	if size <= 0 {
		return nil, fmt.Errorf("invalid qr size: %d", size)
	}

	png, err := qrcode.Encode(text, r.level, size)
	if err != nil {
		return nil, fmt.Errorf("failed to encode QR to PNG: %w", err)
	}
	return png, nil
}
