package issuerfilter

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAcceptsNoRestriction(t *testing.T) {
	f := New(nil, nil)
	assert.True(t, f.Accepts("anything"))
}

func TestAcceptsIncludeOnly(t *testing.T) {
	f := New([]string{"aaa", "bbb"}, nil)
	assert.True(t, f.Accepts("aaa"))
	assert.False(t, f.Accepts("ccc"))
}

func TestAcceptsExcludeOnly(t *testing.T) {
	f := New(nil, []string{"bad"})
	assert.True(t, f.Accepts("good"))
	assert.False(t, f.Accepts("bad"))
}

func TestAcceptsIncludeAndExclude(t *testing.T) {
	f := New([]string{"aaa", "bbb"}, []string{"bbb"})
	assert.True(t, f.Accepts("aaa"))
	assert.False(t, f.Accepts("bbb"), "exclude wins even when also included")
	assert.False(t, f.Accepts("ccc"), "not in include set")
}
