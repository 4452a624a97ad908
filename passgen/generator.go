// Package passgen generates random passwords from tunable character
// classes, using crypto/rand throughout.
package passgen

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
)

const (
	lowerChars   = "abcdefghijklmnopqrstuvwxyz"
	upperChars   = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	digitChars   = "0123456789"
	specialChars = "!\"#$%&'()*+,-./:;<=>?@[\\]^_`{|}~"
)

// Spec selects the length and character classes of a generated password.
type Spec struct {
	Length  int
	Upper   bool
	Lower   bool
	Digits  bool
	Special bool
}

// DefaultSpec generates 16-character passwords drawing on all classes.
func DefaultSpec() Spec {
	return Spec{Length: 16, Upper: true, Lower: true, Digits: true, Special: true}
}

// Generate produces a random password per the spec. When the length allows,
// the result is guaranteed to contain at least one character from every
// enabled class. Fails if the length is not positive or no class is enabled.
func Generate(spec Spec) (string, error) {
	if spec.Length <= 0 {
		return "", errors.New("password length must be positive")
	}

	var classes []string
	if spec.Upper {
		classes = append(classes, upperChars)
	}
	if spec.Lower {
		classes = append(classes, lowerChars)
	}
	if spec.Digits {
		classes = append(classes, digitChars)
	}
	if spec.Special {
		classes = append(classes, specialChars)
	}
	if len(classes) == 0 {
		return "", errors.New("at least one character class must be enabled")
	}

	var pool string
	for _, c := range classes {
		pool += c
	}

	out := make([]byte, 0, spec.Length)

	// One guaranteed character per enabled class, unless the requested
	// length cannot fit them all.
	if spec.Length >= len(classes) {
		for _, c := range classes {
			ch, err := pick(c)
			if err != nil {
				return "", err
			}
			out = append(out, ch)
		}
	}

	for len(out) < spec.Length {
		ch, err := pick(pool)
		if err != nil {
			return "", err
		}
		out = append(out, ch)
	}

	if err := shuffle(out); err != nil {
		return "", err
	}
	return string(out), nil
}

func pick(set string) (byte, error) {
	i, err := randInt(len(set))
	if err != nil {
		return 0, err
	}
	return set[i], nil
}

// shuffle performs a Fisher-Yates shuffle driven by crypto/rand.
func shuffle(b []byte) error {
	for i := len(b) - 1; i > 0; i-- {
		j, err := randInt(i + 1)
		if err != nil {
			return err
		}
		b[i], b[j] = b[j], b[i]
	}
	return nil
}

func randInt(n int) (int, error) {
	v, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		return 0, fmt.Errorf("random index: %w", err)
	}
	return int(v.Int64()), nil
}
