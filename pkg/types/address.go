package types

import (
	"database/sql/driver"
	"encoding/json"
	"strings"
)

// ShippingAddress is the buyer's delivery address, stored as JSON on users and orders.
type ShippingAddress struct {
	Street     string `json:"street"`
	Building   string `json:"building,omitempty"`
	Floor      string `json:"floor,omitempty"`
	Apartment  string `json:"apartment,omitempty"`
	City       string `json:"city"`
	State      string `json:"state,omitempty"`
	PostalCode string `json:"postal_code,omitempty"`
	Country    string `json:"country"`
}

// Value serializes the address to JSON.
func (a ShippingAddress) Value() (driver.Value, error) {
	buf, err := json.Marshal(a)
	if err != nil {
		return nil, err
	}
	return string(buf), nil
}

// Scan decodes a JSON column into the address.
func (a *ShippingAddress) Scan(value interface{}) error {
	if value == nil {
		*a = ShippingAddress{}
		return nil
	}
	raw, err := asJSON(value)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, a)
}

// MissingFields lists the address fields a gateway billing profile cannot do without.
func (a ShippingAddress) MissingFields() []string {
	missing := []string{}
	if strings.TrimSpace(a.Street) == "" {
		missing = append(missing, "address.street")
	}
	if strings.TrimSpace(a.City) == "" {
		missing = append(missing, "address.city")
	}
	if strings.TrimSpace(a.Country) == "" {
		missing = append(missing, "address.country")
	}
	return missing
}
