package notebook

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewUsesTemplate(t *testing.T) {
	t.Parallel()
	assert.Equal(t, DefaultTemplate, New().Get())
}

func TestAppendAddsHeadingSection(t *testing.T) {
	t.Parallel()

	d := Restore("# Notes")
	d.Append("Summary from Chat", "- weeks 1-4: cells")

	assert.Equal(t, "# Notes\n\n## Summary from Chat\n- weeks 1-4: cells", d.Get())
}

func TestSetReplacesAndExportReturnsBytes(t *testing.T) {
	t.Parallel()

	d := New()
	d.Set("edited by hand ✍️")
	assert.Equal(t, []byte("edited by hand ✍️"), d.Export())

	d.Reset()
	assert.Equal(t, DefaultTemplate, d.Get())
}
