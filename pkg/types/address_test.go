package types

import "testing"

func TestShippingAddressNormalize(t *testing.T) {
	blank := "   "
	addr := ShippingAddress{
		FirstName:  " Ada ",
		LastName:   "Lovelace",
		Line1:      " 1 Main St ",
		Line2:      &blank,
		City:       "Austin",
		PostalCode: "78701",
		Country:    "us",
	}.Normalize()

	if addr.FirstName != "Ada" || addr.Line1 != "1 Main St" {
		t.Fatalf("expected trimmed values, got %+v", addr)
	}
	if addr.Line2 != nil {
		t.Fatalf("blank line2 should collapse to nil")
	}
	if addr.Country != "US" {
		t.Fatalf("expected upper-cased country, got %q", addr.Country)
	}
	if missing := addr.MissingFields(); len(missing) != 0 {
		t.Fatalf("expected no missing fields, got %v", missing)
	}
}

func TestShippingAddressMissingFields(t *testing.T) {
	missing := ShippingAddress{FirstName: "Ada"}.Normalize().MissingFields()
	want := []string{"last_name", "line1", "city", "postal_code"}
	if len(missing) != len(want) {
		t.Fatalf("expected %v, got %v", want, missing)
	}
	for i := range want {
		if missing[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, missing)
		}
	}
}
