package httphandler

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRenderNote_EmptyInput(t *testing.T) {
	assert.Equal(t, "", renderNote(""))
}

func TestRenderNote_Emphasis(t *testing.T) {
	assert.Contains(t, renderNote("rotated after **leak**"), "<strong>leak</strong>")
}

func TestRenderNote_Link(t *testing.T) {
	result := renderNote("see [ticket](https://example.com/T-1)")
	assert.Contains(t, result, `<a href="https://example.com/T-1"`)
}

func TestRenderNote_StripsScript(t *testing.T) {
	result := renderNote("ok <script>alert('x')</script>")
	assert.NotContains(t, result, "<script>")
	assert.Contains(t, result, "ok")
}

func TestRenderNote_StripsEventHandlers(t *testing.T) {
	result := renderNote(`<img src="x.png" onerror="alert(1)">`)
	assert.NotContains(t, result, "onerror")
}
