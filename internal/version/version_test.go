package version

import "testing"

func TestCompare(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"4.12.17", "4.12.19", -1},
		{"4.13.0", "4.12.19", 1},
		{"4.12.19", "4.12.19", 0},
		{"not-a-version", "4.12.19", -1},
		{"not-a-version", "also-not", 0},
	}

	for _, tt := range tests {
		if got := Compare(tt.a, tt.b); got != tt.want {
			t.Errorf("Compare(%q, %q) = %d, want %d", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestMin(t *testing.T) {
	tests := []struct {
		a, b, want string
	}{
		{"4.12.17", "4.13.0", "4.12.17"},
		{"", "4.13.0", "4.13.0"},
		{"4.12.17", "", "4.12.17"},
		{"", "", ""},
	}

	for _, tt := range tests {
		if got := Min(tt.a, tt.b); got != tt.want {
			t.Errorf("Min(%q, %q) = %q, want %q", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestMinorPrefix(t *testing.T) {
	if got := MinorPrefix("4.13.12"); got != "4.13" {
		t.Errorf("Expected minor prefix 4.13, got %q", got)
	}
}

func TestCompareMinor(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"4.12.17", "4.13", -1},
		{"4.13.1", "4.13", 0},
		{"4.14.0", "4.13", 1},
		{"5.0.0", "4.13", 1},
		// Patch level never matters.
		{"4.13.99", "4.13.0", 0},
	}

	for _, tt := range tests {
		if got := CompareMinor(tt.a, tt.b); got != tt.want {
			t.Errorf("CompareMinor(%q, %q) = %d, want %d", tt.a, tt.b, got, tt.want)
		}
	}
}
