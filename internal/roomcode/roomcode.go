// Package roomcode generates and validates the short human-entry codes that
// address rooms.
package roomcode

import (
	"crypto/rand"
	"errors"
	"fmt"
	"strings"
)

// Alphabet is the 32-symbol set room codes are drawn from. Visually ambiguous
// characters (0/O, 1/I) are excluded so codes survive being read aloud.
const Alphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// Length is the fixed number of characters in a room code.
const Length = 6

// ErrInvalidCode indicates the input cannot be normalised into a room code.
var ErrInvalidCode = errors.New("invalid room code")

// Generate returns a new random room code.
func Generate() (string, error) {
	buf := make([]byte, Length)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}

	code := make([]byte, Length)
	for i, b := range buf {
		code[i] = Alphabet[int(b)%len(Alphabet)]
	}

	return string(code), nil
}

// Normalize upper-cases the input, strips separators users commonly paste
// along with a code, and validates length and alphabet. Codes are stored and
// compared upper-case; input is case-insensitive.
func Normalize(input string) (string, error) {
	cleaned := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z':
			return r - ('a' - 'A')
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == ' ' || r == '-' || r == '_':
			return -1
		default:
			return r
		}
	}, strings.TrimSpace(input))

	if len(cleaned) != Length {
		return "", ErrInvalidCode
	}

	for i := 0; i < len(cleaned); i++ {
		if !strings.ContainsRune(Alphabet, rune(cleaned[i])) {
			return "", ErrInvalidCode
		}
	}

	return cleaned, nil
}

// InviteLink builds the shareable join URL for a room code.
func InviteLink(origin, code string) string {
	return fmt.Sprintf("%s/join/%s", strings.TrimRight(origin, "/"), code)
}

// DeepLink builds the in-app chat path for a room code, used by notifications.
func DeepLink(code string) string {
	return "/chat/" + code
}
