package core

import (
	"crypto/rand"
	"fmt"
	"io"
	"strings"
)

// UserCodeAlphabet omits 0, 1, I and O.
const UserCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

const userCodeGroupLength = 6

// GenerateUserCode returns PREFIX-XXXXXX-XXXXXX. The alphabet has 32 symbols so
// masking a random byte to five bits keeps the distribution uniform.
func GenerateUserCode(prefix string, random io.Reader) (string, error) {
	if random == nil {
		random = rand.Reader
	}
	prefix = strings.ToUpper(strings.TrimSpace(prefix))
	if prefix == "" {
		prefix = defaultUserCodePrefix
	}
	raw := make([]byte, userCodeGroupLength*2)
	if _, err := io.ReadFull(random, raw); err != nil {
		return "", fmt.Errorf("core: generate user code: %w", err)
	}
	symbols := make([]byte, len(raw))
	for i, b := range raw {
		symbols[i] = UserCodeAlphabet[int(b)&31]
	}
	return prefix + "-" + string(symbols[:userCodeGroupLength]) + "-" + string(symbols[userCodeGroupLength:]), nil
}

// NormalizeUserCode uppercases typed input and drops whitespace so codes read
// aloud or retyped still resolve.
func NormalizeUserCode(input string) string {
	input = strings.ToUpper(input)
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '\n', '\r':
			return -1
		}
		return r
	}, input)
}

func ValidUserCode(code string) bool {
	parts := strings.Split(code, "-")
	if len(parts) != 3 || parts[0] == "" {
		return false
	}
	for _, group := range parts[1:] {
		if len(group) != userCodeGroupLength {
			return false
		}
		for _, r := range group {
			if !strings.ContainsRune(UserCodeAlphabet, r) {
				return false
			}
		}
	}
	return true
}
