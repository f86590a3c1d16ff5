package helpers

import (
	"testing"
)

func TestCompareBytes(t *testing.T) {
	tests := []struct {
		name string
		a    []byte
		b    []byte
		want int
	}{
		{"equal", []byte{1, 2, 3}, []byte{1, 2, 3}, 0},
		{"a less", []byte{1, 2, 3}, []byte{1, 2, 4}, -1},
		{"a greater", []byte{1, 2, 4}, []byte{1, 2, 3}, 1},
		{"a shorter", []byte{1, 2}, []byte{1, 2, 3}, -1},
		{"a longer", []byte{1, 2, 3}, []byte{1, 2}, 1},
		{"empty equal", []byte{}, []byte{}, 0},
		{"a empty", []byte{}, []byte{1}, -1},
		{"b empty", []byte{1}, []byte{}, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CompareBytes(tt.a, tt.b)
			if got != tt.want {
				t.Errorf("CompareBytes = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestBytesEqual(t *testing.T) {
	tests := []struct {
		name string
		a    []byte
		b    []byte
		want bool
	}{
		{"equal", []byte{1, 2, 3}, []byte{1, 2, 3}, true},
		{"not equal", []byte{1, 2, 3}, []byte{1, 2, 4}, false},
		{"different length", []byte{1, 2}, []byte{1, 2, 3}, false},
		{"empty equal", []byte{}, []byte{}, true},
		{"nil equal", nil, nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := BytesEqual(tt.a, tt.b)
			if got != tt.want {
				t.Errorf("BytesEqual = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIsZeroBytes(t *testing.T) {
	tests := []struct {
		name string
		b    []byte
		want bool
	}{
		{"all zeros", []byte{0, 0, 0}, true},
		{"has non-zero", []byte{0, 1, 0}, false},
		{"empty", []byte{}, true},
		{"single zero", []byte{0}, true},
		{"single non-zero", []byte{1}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := IsZeroBytes(tt.b)
			if got != tt.want {
				t.Errorf("IsZeroBytes = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestGenerateSecureRandom(t *testing.T) {
	b, err := GenerateSecureRandom(16)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(b) != 16 {
		t.Fatalf("GenerateSecureRandom(16) returned %d bytes", len(b))
	}
	c, err := GenerateSecureRandom(16)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if BytesEqual(b, c) {
		t.Error("two calls to GenerateSecureRandom(16) produced identical output")
	}
}

func TestConstantTimeCompare(t *testing.T) {
	if !ConstantTimeCompare([]byte{1, 2, 3}, []byte{1, 2, 3}) {
		t.Error("expected equal slices to compare equal")
	}
	if ConstantTimeCompare([]byte{1, 2, 3}, []byte{1, 2, 4}) {
		t.Error("expected differing slices to compare unequal")
	}
}
