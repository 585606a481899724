package utils_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/maxgio92/xprof/internal/utils"
)

func TestHash(t *testing.T) {
	require.NotEqual(t, utils.Hash("foo"), utils.Hash("bar"),
		"Hash should differ for different inputs",
	)

	require.Equal(
		t, utils.Hash("baz"), utils.Hash("baz"),
		"Hash should be deterministic for the same input",
	)
}

func TestMicros(t *testing.T) {
	tests := []struct {
		name string
		ns   int64
		want uint32
	}{
		{"zero", 0, 0},
		{"negative", -5000, 0},
		{"truncates", 16_999, 16},
		{"saturates", 1 << 50, ^uint32(0)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, utils.Micros(tt.ns))
		})
	}
}
