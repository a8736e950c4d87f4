package roster

import (
	"reflect"
	"testing"
)

func TestSplitSpecialties(t *testing.T) {
	tests := []struct {
		raw  string
		want []string
	}{
		{"Cardiology;Internal Medicine", []string{"Cardiology", "Internal Medicine"}},
		{" Cardiology ; ; Dermatology ", []string{"Cardiology", "Dermatology"}},
		{"", nil},
		{";;", nil},
		{"Pediatrics", []string{"Pediatrics"}},
	}

	for _, tt := range tests {
		got := splitSpecialties(tt.raw)
		if !reflect.DeepEqual(got, tt.want) {
			t.Errorf("splitSpecialties(%q) = %v, want %v", tt.raw, got, tt.want)
		}
	}
}
