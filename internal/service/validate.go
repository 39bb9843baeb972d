package service

import (
	"net/mail"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/and161185/goph-auth/internal/errs"
)

// PasswordPolicy describes the accepted password shape.
type PasswordPolicy struct {
	MinLength        int
	MaxLength        int
	RequireUppercase bool
	RequireLowercase bool
	RequireNumbers   bool
	RequireSymbols   bool
}

// DefaultPasswordPolicy requires 8+ characters mixing cases, digits and symbols.
// bcrypt ignores input past 72 bytes, hence the upper bound.
var DefaultPasswordPolicy = PasswordPolicy{
	MinLength:        8,
	MaxLength:        72,
	RequireUppercase: true,
	RequireLowercase: true,
	RequireNumbers:   true,
	RequireSymbols:   true,
}

// Check adds a message for the first rule password breaks.
func (p PasswordPolicy) Check(v *errs.ValidationError, field, password string) {
	if utf8.RuneCountInString(password) < p.MinLength {
		v.Add(field, "must be at least "+strconv.Itoa(p.MinLength)+" characters")
		return
	}
	if p.MaxLength > 0 && len(password) > p.MaxLength {
		v.Add(field, "must be at most "+strconv.Itoa(p.MaxLength)+" bytes")
		return
	}
	var upper, lower, digit, symbol bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		default:
			symbol = true
		}
	}
	switch {
	case p.RequireUppercase && !upper:
		v.Add(field, "must contain at least one uppercase letter")
	case p.RequireLowercase && !lower:
		v.Add(field, "must contain at least one lowercase letter")
	case p.RequireNumbers && !digit:
		v.Add(field, "must contain at least one number")
	case p.RequireSymbols && !symbol:
		v.Add(field, "must contain at least one special character")
	}
}

// NormalizeEmail trims and lowercases an address. Stored emails are always normalized.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func checkEmail(v *errs.ValidationError, field, email string) {
	if email == "" {
		v.Add(field, "is required")
		return
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email || !strings.Contains(email[strings.LastIndexByte(email, '@')+1:], ".") {
		v.Add(field, "must be a valid email address")
	}
}

func checkName(v *errs.ValidationError, field, name string) {
	n := utf8.RuneCountInString(strings.TrimSpace(name))
	switch {
	case n < 2:
		v.Add(field, "must be at least 2 characters")
	case n > 100:
		v.Add(field, "must be at most 100 characters")
	}
}
