package testutils

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

type recordingT struct {
	testing.TB
	failed bool
	msg    string
}

func (r *recordingT) Helper() {}

func (r *recordingT) Errorf(format string, args ...any) {
	r.failed = true
	r.msg = fmt.Sprintf(format, args...)
}

func TestJSONAsserter(t *testing.T) {
	t.Run("presence placeholder matches any value", func(t *testing.T) {
		rt := &recordingT{TB: t}
		NewJSONAsserter(rt).Assert(`{"a":1,"opId":"x-1"}`, `{"a":1,"opId":"<<PRESENCE>>"}`)
		assert.False(t, rt.failed, rt.msg)
	})

	t.Run("missing key fails", func(t *testing.T) {
		rt := &recordingT{TB: t}
		NewJSONAsserter(rt).Assert(`{"a":1}`, `{"a":1,"opId":"<<PRESENCE>>"}`)
		assert.True(t, rt.failed, "missing key MUST fail")
	})

	t.Run("extra keys", func(t *testing.T) {
		rt := &recordingT{TB: t}
		NewJSONAsserter(rt).Assert(`{"a":1,"b":2}`, `{"a":1}`)
		assert.True(t, rt.failed, "extra keys MUST fail by default")

		rt = &recordingT{TB: t}
		NewJSONAsserter(rt).WithOptions(WithIgnoreExtraKeys(true)).Assert(`{"a":1,"b":2}`, `{"a":1}`)
		assert.False(t, rt.failed, rt.msg)
	})

	t.Run("ignored fields", func(t *testing.T) {
		rt := &recordingT{TB: t}
		NewJSONAsserter(rt).WithOptions(WithIgnoredFields("preview")).Assert(`{"a":1,"preview":"x"}`, `{"a":1,"preview":"y"}`)
		assert.False(t, rt.failed, rt.msg)
	})
}
