package types

import (
	"strings"
)

// ShippingAddress is the value copied onto an order at placement time. It is
// never a live reference to a saved address.
type ShippingAddress struct {
	FirstName  string  `json:"first_name" gorm:"column:first_name"`
	LastName   string  `json:"last_name" gorm:"column:last_name"`
	Line1      string  `json:"line1" gorm:"column:line1"`
	Line2      *string `json:"line2,omitempty" gorm:"column:line2"`
	City       string  `json:"city" gorm:"column:city"`
	State      string  `json:"state" gorm:"column:state"`
	PostalCode string  `json:"postal_code" gorm:"column:postal_code"`
	Country    string  `json:"country" gorm:"column:country"`
	Phone      *string `json:"phone,omitempty" gorm:"column:phone"`
}

// Normalize trims every field and defaults the country to US.
func (a ShippingAddress) Normalize() ShippingAddress {
	a.FirstName = strings.TrimSpace(a.FirstName)
	a.LastName = strings.TrimSpace(a.LastName)
	a.Line1 = strings.TrimSpace(a.Line1)
	a.Line2 = trimmedPtr(a.Line2)
	a.City = strings.TrimSpace(a.City)
	a.State = strings.TrimSpace(a.State)
	a.PostalCode = strings.TrimSpace(a.PostalCode)
	a.Country = strings.ToUpper(strings.TrimSpace(a.Country))
	if a.Country == "" {
		a.Country = "US"
	}
	a.Phone = trimmedPtr(a.Phone)
	return a
}

// MissingFields lists required fields that are blank.
func (a ShippingAddress) MissingFields() []string {
	missing := []string{}
	required := []struct {
		name  string
		value string
	}{
		{"first_name", a.FirstName},
		{"last_name", a.LastName},
		{"line1", a.Line1},
		{"city", a.City},
		{"postal_code", a.PostalCode},
	}
	for _, field := range required {
		if strings.TrimSpace(field.value) == "" {
			missing = append(missing, field.name)
		}
	}
	return missing
}

func trimmedPtr(value *string) *string {
	if value == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
