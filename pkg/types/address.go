package types

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"
)

// Address is an immutable shipping address snapshot copied onto an order at
// creation time. It is stored as JSON so later edits to the customer's address
// book never reach existing orders.
type Address struct {
	RecipientName string  `json:"recipient_name"`
	Line1         string  `json:"line1"`
	Line2         *string `json:"line2,omitempty"`
	City          string  `json:"city"`
	State         string  `json:"state"`
	PostalCode    string  `json:"postal_code"`
	Country       string  `json:"country"`
	Phone         *string `json:"phone,omitempty"`
}

// Validate checks the fields every shippable address needs.
func (a Address) Validate() error {
	required := map[string]string{
		"line1":       a.Line1,
		"city":        a.City,
		"state":       a.State,
		"postal_code": a.PostalCode,
	}
	for _, field := range []string{"line1", "city", "state", "postal_code"} {
		if strings.TrimSpace(required[field]) == "" {
			return fmt.Errorf("address: missing %s", field)
		}
	}
	return nil
}

// Value marshals the snapshot as JSON.
func (a Address) Value() (driver.Value, error) {
	if err := a.Validate(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(a.Country) == "" {
		a.Country = "US"
	}
	raw, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("address: marshal: %w", err)
	}
	return string(raw), nil
}

// Scan decodes a JSON snapshot.
func (a *Address) Scan(value interface{}) error {
	if value == nil {
		*a = Address{}
		return nil
	}
	var raw []byte
	switch v := value.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("address: unsupported scan type %T", value)
	}
	if err := json.Unmarshal(raw, a); err != nil {
		return fmt.Errorf("address: unmarshal: %w", err)
	}
	return nil
}
