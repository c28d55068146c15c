package wsutil

import "testing"

func TestReadLimit(t *testing.T) {
	cases := []struct {
		in   int
		want int64
	}{
		{0, 64 * 1024},
		{-1, 64 * 1024},
		{1024, 1024},
		{128 * 1024, 128 * 1024},
	}
	for _, tc := range cases {
		if got := ReadLimit(tc.in); got != tc.want {
			t.Errorf("ReadLimit(%d)=%d want %d", tc.in, got, tc.want)
		}
	}
}
