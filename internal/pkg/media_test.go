package pkg

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"community_core/internal/model"
)

var pngHeader = []byte{0x89, 'P', 'N', 'G', 0x0D, 0x0A, 0x1A, 0x0A, 0, 0, 0, 0x0D, 'I', 'H', 'D', 'R'}

func TestDetectMedia(t *testing.T) {
	kind, ct, err := DetectMedia(pngHeader)
	require.NoError(t, err)
	assert.Equal(t, model.MediaImage, kind)
	assert.Equal(t, "image/png", ct)
	assert.Equal(t, ".png", MediaExtension(pngHeader))

	kind, _, err = DetectMedia(nil)
	require.NoError(t, err)
	assert.Equal(t, model.MediaNone, kind)

	_, _, err = DetectMedia([]byte("just some text"))
	assert.True(t, IsCode(err, ErrInvalidInput))
}
