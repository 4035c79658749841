package redsys

import (
	"crypto/rand"
	"fmt"
	"time"
)

const (
	orderNumberLength = 12
	orderSuffixChars  = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"
)

// NewOrderNumber builds a fresh gateway order number: the first four
// characters encode YYMM (a gateway requirement for order uniqueness windows)
// and the remaining eight are random alphanumerics. A new number is generated
// for every charge attempt; order numbers are never reused.
func NewOrderNumber(now time.Time) (string, error) {
	prefix := now.UTC().Format("0601")
	suffixLen := orderNumberLength - len(prefix)
	buf := make([]byte, suffixLen)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate order suffix: %w", err)
	}
	for i, b := range buf {
		buf[i] = orderSuffixChars[int(b)%len(orderSuffixChars)]
	}
	return prefix + string(buf), nil
}
