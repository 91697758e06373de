package types

import "testing"

func TestAddressValueRoundTrip(t *testing.T) {
	line2 := "Apt 4"
	in := Address{RecipientName: "Ada", Line1: "1 Main St", Line2: &line2, City: "Austin", State: "TX", PostalCode: "78701"}

	raw, err := in.Value()
	if err != nil {
		t.Fatalf("Value: %v", err)
	}

	var out Address
	if err := out.Scan(raw); err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if out.Country != "US" {
		t.Fatalf("expected default country US, got %q", out.Country)
	}
	if out.Line2 == nil || *out.Line2 != line2 {
		t.Fatalf("expected line2 %q, got %v", line2, out.Line2)
	}
}

func TestAddressValueRejectsIncomplete(t *testing.T) {
	if _, err := (Address{Line1: "1 Main St", City: "Austin", State: "TX"}).Value(); err == nil {
		t.Fatal("expected missing postal code to fail")
	}
}

func TestAddressScanRejectsUnknownType(t *testing.T) {
	var a Address
	if err := a.Scan(42); err == nil {
		t.Fatal("expected scan of int to fail")
	}
}
