package domain

import (
	"fmt"
	"strings"
)

// NormalizeSymbol upper-cases and validates a trading pair symbol. Valid
// symbols are 4 to 20 characters of A-Z and 0-9.
func NormalizeSymbol(symbol string) (string, error) {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	if len(s) < 4 || len(s) > 20 {
		return "", fmt.Errorf("%w: %q", ErrInvalidSymbol, symbol)
	}
	for _, r := range s {
		if (r < 'A' || r > 'Z') && (r < '0' || r > '9') {
			return "", fmt.Errorf("%w: %q", ErrInvalidSymbol, symbol)
		}
	}
	return s, nil
}
