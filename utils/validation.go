package utils

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/vitwit/upiswitch/types"
)

var (
	addressPattern = regexp.MustCompile(`^[A-Za-z0-9.\-_]{1,256}@[A-Za-z][A-Za-z0-9]{0,63}$`)
	pinPattern     = regexp.MustCompile(`^[0-9]{4,6}$`)
)

// ValidateAddress checks a virtual payment address of the form handle@psp.
func ValidateAddress(addr string) error {
	if addr == "" {
		return fmt.Errorf("address cannot be empty")
	}
	if !addressPattern.MatchString(addr) {
		return fmt.Errorf("invalid payment address %q", addr)
	}
	return nil
}

// AddressHandle returns the psp handle of a payment address ("x" for "a@x").
func AddressHandle(addr string) string {
	if i := strings.LastIndex(addr, "@"); i >= 0 {
		return addr[i+1:]
	}
	return ""
}

// ValidateAmount parses a positive amount with at most two fractional digits.
func ValidateAmount(amount string) (types.Money, error) {
	if amount == "" {
		return types.Money{}, fmt.Errorf("amount cannot be empty")
	}
	m, err := types.NewMoney(amount)
	if err != nil {
		return types.Money{}, err
	}
	if !m.IsPositive() {
		return types.Money{}, fmt.Errorf("amount must be greater than 0")
	}
	if m.Scale() > types.MoneyScale {
		return types.Money{}, fmt.Errorf("amount %s has more than %d decimal places", amount, types.MoneyScale)
	}
	return m, nil
}

// ValidatePIN checks the shape of a numeric PIN.
func ValidatePIN(pin string) error {
	if !pinPattern.MatchString(pin) {
		return fmt.Errorf("PIN must be 4 to 6 digits")
	}
	return nil
}

// MaskName keeps the first and last character of each word of name.
func MaskName(name string) string {
	words := strings.Fields(name)
	for i, w := range words {
		r := []rune(w)
		if len(r) <= 2 {
			continue
		}
		words[i] = string(r[0]) + strings.Repeat("*", len(r)-2) + string(r[len(r)-1])
	}
	return strings.Join(words, " ")
}
