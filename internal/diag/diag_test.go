package diag

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDiags_CountAndSubjects(t *testing.T) {
	var d Diags
	d.Add("a.B", KindClassRewrite, "boom")
	d.Add("a.B", KindClassRewrite, "again 2")
	d.Add("=x", KindRuleParse, "missing from")
	d.Add("a.C", KindClassRewrite, "boom")

	assert.Equal(t, 4, d.Len())
	assert.Equal(t, 3, d.Count(KindClassRewrite))
	assert.Equal(t, []string{"a.B", "a.C"}, d.Subjects(KindClassRewrite))
	assert.Equal(t, "[class_rewrite] a.B: again 2", d.Items()[1].String())
	assert.Empty(t, d.Subjects(KindCallSite))
}

func TestMode_String(t *testing.T) {
	assert.Equal(t, "strict", ModeStrict.String())
	assert.Equal(t, "best-effort", ModeBestEffort.String())
	var zero Mode
	assert.Equal(t, ModeBestEffort, zero)
}
