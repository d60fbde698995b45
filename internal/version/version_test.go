package version

import "testing"

func TestNormalize(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"dev", "dev"},
		{"v1.2.3", "1.2.3"},
		{"1.2.3", "1.2.3"},
		{"  v0.4.0 ", "0.4.0"},
	}
	for _, tc := range cases {
		if got := normalize(tc.in); got != tc.want {
			t.Errorf("normalize(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestStringDefault(t *testing.T) {
	if String() == "" {
		t.Fatal("expected non-empty version string")
	}
}
