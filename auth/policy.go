// Package auth provides passphrase quality checks for front-ends to run
// before initialising or rekeying a vault. The vault core itself never
// enforces policy and never performs network calls on its own.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode"

	zxcvbn "github.com/nbutton23/zxcvbn-go"
)

const specialChars = "!\"#$%&'()*+,-./:;<=>?@[\\]^_{|}~`"

// MinPassphraseLength is the minimum accepted passphrase length.
const MinPassphraseLength = 12

// ValidatePassphrase applies the baseline passphrase policy: minimum length
// plus at least one uppercase letter, one lowercase letter, one digit, and
// one special character.
func ValidatePassphrase(pw string) error {
	if len(pw) < MinPassphraseLength {
		return fmt.Errorf("passphrase must be at least %d characters long", MinPassphraseLength)
	}
	if !hasClass(pw, unicode.IsUpper) {
		return errors.New("passphrase must include an uppercase letter")
	}
	if !hasClass(pw, unicode.IsLower) {
		return errors.New("passphrase must include a lowercase letter")
	}
	if !hasClass(pw, unicode.IsDigit) {
		return errors.New("passphrase must include a digit")
	}
	if !hasSpecial(pw) {
		return errors.New("passphrase must include a special character")
	}
	return nil
}

// ValidateOptions tunes ValidatePassphraseAdvanced.
type ValidateOptions struct {
	// MinScore is the minimum accepted zxcvbn score (0-4).
	MinScore int

	// EnableHIBP additionally checks the passphrase against the HIBP breach
	// corpus via the k-anonymity range API. Requires network access.
	EnableHIBP bool
}

// DefaultValidateOptions requires a zxcvbn score of at least 3 and skips the
// online breach check.
func DefaultValidateOptions() ValidateOptions {
	return ValidateOptions{MinScore: 3}
}

// ValidatePassphraseAdvanced runs the baseline policy, then scores the
// passphrase with zxcvbn, and optionally checks it against known breaches.
func ValidatePassphraseAdvanced(ctx context.Context, pw string, opts ValidateOptions) error {
	if err := ValidatePassphrase(pw); err != nil {
		return err
	}

	strength := zxcvbn.PasswordStrength(pw, nil)
	if strength.Score < opts.MinScore {
		return fmt.Errorf("passphrase is too guessable (score %d, need %d)", strength.Score, opts.MinScore)
	}

	if opts.EnableHIBP {
		res, err := CheckHIBP(ctx, pw)
		if err != nil {
			return fmt.Errorf("breach check: %w", err)
		}
		if res.Found {
			return fmt.Errorf("passphrase appears in %d known breaches", res.Count)
		}
	}
	return nil
}

func hasClass(s string, class func(rune) bool) bool {
	for _, r := range s {
		if class(r) {
			return true
		}
	}
	return false
}

func hasSpecial(s string) bool {
	for _, r := range s {
		if strings.ContainsRune(specialChars, r) {
			return true
		}
	}
	return false
}
