package version

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetInfo(t *testing.T) {
	info := GetInfo()
	assert.Equal(t, Version, info.Version)
	assert.NotEmpty(t, info.GoVersion)
}

func TestInfoString(t *testing.T) {
	info := Info{Version: "1.2.3", GitCommit: "abcdef1234", BuildTime: "2025-06-01", GoVersion: "go1.25"}
	s := info.String()
	assert.True(t, strings.HasPrefix(s, "MeteoTrack v1.2.3"))
	assert.Contains(t, s, "abcdef1234")
}

func TestInfoShort(t *testing.T) {
	info := Info{Version: "1.2.3", GitCommit: "abcdef1234"}
	assert.Equal(t, "v1.2.3 (abcdef1)", info.Short())
}
