package control

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClampConcurrency(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		max  int
		want int
	}{
		{"正常值", "4", 8, 4},
		{"带空白", " 4\n", 8, 4},
		{"空串回退为 1", "", 8, 1},
		{"非数字回退为 1", "abc", 8, 1},
		{"零钳到下界", "0", 8, 1},
		{"负数钳到下界", "-3", 8, 1},
		{"超出上界钳到 max", "100", 8, 8},
		{"恰好等于 max", "8", 8, 8},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ClampConcurrency(tc.raw, tc.max))
		})
	}
}
