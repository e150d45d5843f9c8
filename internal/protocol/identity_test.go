package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOfflineUUID(t *testing.T) {
	id := OfflineUUID("Notch")
	assert.Equal(t, uuid3Version, int(id.Version()))
	assert.Equal(t, "RFC4122", id.Variant().String())
	assert.Equal(t, id, OfflineUUID("Notch"))
	assert.NotEqual(t, id, OfflineUUID("notch"))
}

const uuid3Version = 3

func TestValidUsername(t *testing.T) {
	tests := []struct {
		name string
		want bool
	}{
		{"Steve", true},
		{"a", true},
		{"under_score_9", true},
		{"sixteen_chars_ok", true},
		{"seventeen_chars_x", false},
		{"", false},
		{"with space", false},
		{"dash-name", false},
		{"ünicode", false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ValidUsername(tc.name))
		})
	}
}
