package masking

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMaskEmail(t *testing.T) {
	assert.Equal(t, "d****@example.com", MaskEmail(" dina@example.com "))
	assert.Equal(t, "****", MaskEmail("not-an-email"))
	assert.Equal(t, "", MaskEmail(""))
}

func TestMaskPhone(t *testing.T) {
	assert.Equal(t, "****0111", MaskPhone("+62 812-0000-0111"))
	assert.Equal(t, "****", MaskPhone("0812"))
	assert.Equal(t, "", MaskPhone(" "))
}

func TestMaskMetadata(t *testing.T) {
	masked := MaskMetadata(map[string]any{
		"alt_phone": "081234567890",
		"count":     3,
		"nested":    map[string]any{"note": "leave at door"},
	})
	assert.Equal(t, "****7890", masked["alt_phone"])
	assert.Equal(t, 3, masked["count"])
	assert.Equal(t, map[string]any{"note": "****door"}, masked["nested"])
	assert.Nil(t, MaskMetadata(nil))
}
