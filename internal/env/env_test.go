package env

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTruthy(t *testing.T) {
	for _, v := range []string{"1", "true", "TRUE", "True"} {
		assert.True(t, Truthy(v), v)
	}
	for _, v := range []string{"", "0", "false", "yes", "on", "2", "truthy", " 1 ", "true\n", " true"} {
		assert.False(t, Truthy(v), v)
	}
}

func TestMergeOrderAndExpansion(t *testing.T) {
	e := New().WithBase([]string{"HOME=/home/u", "PATH=/bin", "BAD"})
	e.Set("APP_DIR", "${HOME}/app")
	out := e.Merge([]string{"PATH=/opt/bin", "=skip"})
	assert.Equal(t, []string{"APP_DIR=/home/u/app", "HOME=/home/u", "PATH=/opt/bin"}, out)
}

func TestVerboseLookup(t *testing.T) {
	e := New().WithBase([]string{"VERBOSE=true"})
	assert.True(t, e.Verbose())
	e.Set(VerboseVar, "0")
	assert.False(t, e.Verbose())
	assert.False(t, New().WithBase(nil).Verbose())
}
