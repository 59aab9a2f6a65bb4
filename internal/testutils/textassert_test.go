package testutils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTextAsserter(t *testing.T) {
	t.Run("trailing blanks are ignored by default", func(t *testing.T) {
		rt := &recordingT{TB: t}
		NewTextAsserter(rt).Assert("NAME  ADDRESS  \nPrinter  AA:BB\n", "\nNAME  ADDRESS\nPrinter  AA:BB")
		assert.False(t, rt.failed, rt.msg)
	})

	t.Run("mismatch reports a unified diff", func(t *testing.T) {
		rt := &recordingT{TB: t}
		NewTextAsserter(rt).Assert("a\nb\n", "a\nc\n")
		assert.True(t, rt.failed)
		assert.Contains(t, rt.msg, "-c")
		assert.Contains(t, rt.msg, "+b")
	})

	t.Run("empty lines", func(t *testing.T) {
		rt := &recordingT{TB: t}
		NewTextAsserter(rt).Assert("a\n\nb", "a\nb")
		assert.True(t, rt.failed, "empty lines MUST count by default")

		rt = &recordingT{TB: t}
		NewTextAsserter(rt).WithOptions(WithIgnoreEmptyLines(true)).Assert("a\n\nb", "a\nb")
		assert.False(t, rt.failed, rt.msg)
	})

	t.Run("trailing whitespace can be significant", func(t *testing.T) {
		rt := &recordingT{TB: t}
		NewTextAsserter(rt).WithOptions(WithTrimTrailingWhitespace(false)).Assert("a \nb", "a\nb")
		assert.True(t, rt.failed)
	})
}
