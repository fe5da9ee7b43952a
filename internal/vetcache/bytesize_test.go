package vetcache

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseBytes(t *testing.T) {
	tests := map[string]int64{
		"512":   512,
		"512b":  512,
		"64kb":  64 << 10,
		"64K":   64 << 10,
		"50mb":  50 << 20,
		" 1gb ": 1 << 30,
		"1.5g":  3 << 29,
	}
	for in, want := range tests {
		got, err := parseBytes(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	for _, in := range []string{"", "b", "mb", "-1kb", "ten"} {
		_, err := parseBytes(in)
		assert.Error(t, err, in)
	}
}

func TestFormatBytes(t *testing.T) {
	assert.Equal(t, "900b", formatBytes(900))
	assert.Equal(t, "1kb", formatBytes(1024))
	assert.Equal(t, "1.5kb", formatBytes(1536))
	assert.Equal(t, "50mb", formatBytes(50<<20))
	assert.Equal(t, "2gb", formatBytes(2<<30))
}
