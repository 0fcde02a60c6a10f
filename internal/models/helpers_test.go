package models

import (
	"reflect"
	"testing"
)

func TestNormalizeKey(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"already normalized", "BRAND", "BRAND"},
		{"lowercase", "brand", "BRAND"},
		{"spaces", "Item Weight", "ITEM_WEIGHT"},
		{"underscores", "item_weight", "ITEM_WEIGHT"},
		{"mixed separators", "item - weight (net)", "ITEM_WEIGHT_NET"},
		{"leading separators", "  _color", "COLOR"},
		{"trailing separators", "color__ ", "COLOR"},
		{"unicode stripped", "café", "CAF"},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NormalizeKey(tt.in)
			if got != tt.want {
				t.Errorf("NormalizeKey(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestHumanizeKey(t *testing.T) {
	if got := HumanizeKey("NAIL_POLISH"); got != "nail polish" {
		t.Errorf("HumanizeKey = %q, want %q", got, "nail polish")
	}
}

func TestWords(t *testing.T) {
	got := Words("Beauty > Nails Polish Trolleys")
	want := []string{"beauty", "nails", "polish", "trolleys"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Words = %v, want %v", got, want)
	}
}
