package qrcode

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var pngMagic = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}

func TestRenderProducesPNG(t *testing.T) {
	r := NewRenderer()

	img, err := r.Render("BF-1A2B3C4D", DefaultSize)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(img, pngMagic))
}

func TestRenderIsDeterministic(t *testing.T) {
	r := NewRenderer()

	first, err := r.Render("BF-1A2B3C4D", 128)
	require.NoError(t, err)
	second, err := r.Render("BF-1A2B3C4D", 128)
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestRenderRejectsBadInput(t *testing.T) {
	r := NewRenderer()

	_, err := r.Render("", DefaultSize)
	assert.Error(t, err)

	_, err = r.Render("BF-1A2B3C4D", 0)
	assert.Error(t, err)
}
