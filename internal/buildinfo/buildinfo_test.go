package buildinfo

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefaultVersion(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "1.0.1", Version())
	assert.Equal(t, "1.0.1", Current().GetVersion())
}

func TestContextFallbacks(t *testing.T) {
	t.Parallel()

	var nilCtx *Context
	assert.Equal(t, "unknown", nilCtx.GetVersion())
	assert.Equal(t, "unknown", nilCtx.GetBuildDate())
	assert.Equal(t, "unknown", (&Context{}).GetVersion())
	assert.Equal(t, "2.0.0", (&Context{Version: "2.0.0"}).GetVersion())
}
