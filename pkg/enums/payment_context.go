package enums

import "fmt"

// PaymentContext identifies which side of the site initiated a charge.
type PaymentContext string

const (
	PaymentContextShop       PaymentContext = "shop"
	PaymentContextMembership PaymentContext = "membership"
)

var validPaymentContexts = []PaymentContext{
	PaymentContextShop,
	PaymentContextMembership,
}

// String implements fmt.Stringer.
func (c PaymentContext) String() string {
	return string(c)
}

// IsValid reports whether the value is known.
func (c PaymentContext) IsValid() bool {
	for _, candidate := range validPaymentContexts {
		if candidate == c {
			return true
		}
	}
	return false
}

// ParsePaymentContext converts raw input into a PaymentContext.
func ParsePaymentContext(value string) (PaymentContext, error) {
	for _, candidate := range validPaymentContexts {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid payment context %q", value)
}
