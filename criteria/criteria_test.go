package criteria

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMatch(t *testing.T) {
	cases := []struct {
		name   string
		spec   string
		status int
		exp    bool
	}{
		{name: "success matches zero", spec: "success", status: 0, exp: true},
		{name: "success rejects non-zero", spec: "success", status: 1, exp: false},
		{name: "true matches zero", spec: "true", status: 0, exp: true},
		{name: "fail matches non-zero", spec: "fail", status: 2, exp: true},
		{name: "fail rejects zero", spec: "fail", status: 0, exp: false},
		{name: "false matches non-zero", spec: "false", status: 7, exp: true},
		{name: "exact code", spec: "4", status: 4, exp: true},
		{name: "exact code mismatch", spec: "4", status: 5, exp: false},
		{name: "range inside", spec: "3-7", status: 5, exp: true},
		{name: "range low edge", spec: "3-7", status: 3, exp: true},
		{name: "range high edge", spec: "3-7", status: 7, exp: true},
		{name: "range outside", spec: "3-7", status: 8, exp: false},
		{name: "any term may match", spec: "success,4", status: 4, exp: true},
		{name: "first term may match", spec: "success,4", status: 0, exp: true},
		{name: "no term matches", spec: "success,4,9-12", status: 5, exp: false},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			spec, err := Parse(c.spec)
			require.NoError(t, err)
			assert.Equal(t, c.exp, spec.Match(c.status))
			// matching is pure, re-evaluation gives the same answer
			assert.Equal(t, c.exp, spec.Match(c.status))
		})
	}
}

func TestParseInvalid(t *testing.T) {
	for _, spec := range []string{
		"abc",
		"",
		"success,",
		"4,abc",
		"-3",
		"3-",
		"3-x",
		"1.5",
		"3--7",
	} {
		t.Run(spec, func(t *testing.T) {
			_, err := Parse(spec)
			require.Error(t, err)
		})
	}
}

func TestString(t *testing.T) {
	spec, err := Parse("success,3-7")
	require.NoError(t, err)
	assert.Equal(t, "success,3-7", spec.String())
}
