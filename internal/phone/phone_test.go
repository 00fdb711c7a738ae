package phone

import (
	"reflect"
	"testing"
)

func TestCanonical(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"+55 (11) 98765-4321", "5511987654321"},
		{"11987654321", "5511987654321"},
		{"1187654321", "551187654321"},
		{"551187654321", "551187654321"},
		{"", ""},
		{"abc", ""},
		{"+1 415 555 0100", "14155550100"},
	}

	for _, tt := range tests {
		if got := Canonical(tt.in); got != tt.want {
			t.Errorf("Canonical(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestCanonicalVariants(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []string
	}{
		{"with ninth digit", "5511987654321", []string{"5511987654321", "551187654321"}},
		{"without ninth digit", "551187654321", []string{"551187654321", "5511987654321"}},
		{"formatted", "+55 (11) 98765-4321", []string{"5511987654321", "551187654321"}},
		{"13 digits without leading 9", "5511887654321", []string{"5511887654321"}},
		{"foreign", "14155550100", []string{"14155550100"}},
		{"empty", "", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CanonicalVariants(tt.in); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("CanonicalVariants(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

// Either spelling of the same number must share a variant with the other.
func TestCanonicalVariantsRoundTrip(t *testing.T) {
	with := CanonicalVariants("5545999861237")
	without := CanonicalVariants("554599861237")

	shared := false
	for _, a := range with {
		for _, b := range without {
			if a == b {
				shared = true
			}
		}
	}
	if !shared {
		t.Errorf("CanonicalVariants do not overlap: %v vs %v", with, without)
	}
}

func TestJID(t *testing.T) {
	if got := FromJID("5511987654321@s.whatsapp.net"); got != "5511987654321" {
		t.Errorf("FromJID() = %q", got)
	}
	if got := FromJID("5511987654321:12@s.whatsapp.net"); got != "5511987654321" {
		t.Errorf("FromJID() with device = %q", got)
	}
	if got := JID("+55 11 98765-4321"); got != "5511987654321@s.whatsapp.net" {
		t.Errorf("JID() = %q", got)
	}
	if !IsGroupJID("1203630@g.us") {
		t.Error("IsGroupJID() = false for a group")
	}
	if IsGroupJID("5511987654321@s.whatsapp.net") {
		t.Error("IsGroupJID() = true for a contact")
	}
}

func TestCanonicalVariantsKeepsStoredForeignNumbers(t *testing.T) {
	if got := CanonicalVariants("14155550100"); !reflect.DeepEqual(got, []string{"14155550100"}) {
		t.Errorf("CanonicalVariants() = %v", got)
	}
	want := []string{"5511987654321", "551187654321"}
	if got := CanonicalVariants("5511987654321"); !reflect.DeepEqual(got, want) {
		t.Errorf("CanonicalVariants() = %v, want %v", got, want)
	}
}
