package redsys

import (
	"strconv"
	"strings"
)

const (
	codeRefundConfirmed       = 900
	codeCancellationConfirmed = 400
)

// IsAuthorizationSuccess reports whether the response code is in the
// gateway's approved range for new authorizations (0000-0099).
func IsAuthorizationSuccess(code string) bool {
	n, ok := parseResponseCode(code)
	if !ok {
		return false
	}
	return n >= 0 && n <= 99
}

// IsSuccessResponse reports whether the response code represents a successful
// operation of any kind: new authorizations plus confirmed refunds and
// cancellations, which are not authorizations but are not failures either.
func IsSuccessResponse(code string) bool {
	if IsAuthorizationSuccess(code) {
		return true
	}
	n, ok := parseResponseCode(code)
	if !ok {
		return false
	}
	return n == codeRefundConfirmed || n == codeCancellationConfirmed
}

// ParseResponseCode parses the numeric Ds_Response value. ok is false for
// empty or non-numeric input.
func ParseResponseCode(code string) (int, bool) {
	return parseResponseCode(code)
}

func parseResponseCode(code string) (int, bool) {
	trimmed := strings.TrimSpace(code)
	if trimmed == "" {
		return 0, false
	}
	n, err := strconv.Atoi(trimmed)
	if err != nil {
		return 0, false
	}
	return n, true
}
