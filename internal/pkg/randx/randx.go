/*
Package randx provides functions for generating cryptographically secure random numbers and unique identifiers.

It is primarily used to generate Base62 connection ids and UUID event ids.
*/
package randx

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"

	"github.com/google/uuid"
)

const (
	// Base62Chars defines the character set used for Base62 encoding (0-9, A-Z, a-z).
	Base62Chars = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

	// Base62Len is the total number of characters in the Base62 character set (62).
	Base62Len = int64(len(Base62Chars))

	// ConnectionIDPrefix is the prefix of every server-allocated connection id.
	ConnectionIDPrefix = "c_"

	// ConnectionIDRawLength is the fixed length of the Base62 part of a connection id.
	ConnectionIDRawLength = 16
)

// base62 returns n cryptographically random Base62 characters.
func base62(n int) (string, error) {
	result := make([]byte, n)

	for i := range n {
		num, err := rand.Int(rand.Reader, big.NewInt(Base62Len))
		if err != nil {
			return "", fmt.Errorf("failed to generate random number: %w", err)
		}

		result[i] = Base62Chars[num.Int64()]
	}

	return string(result), nil
}

// ConnectionID allocates an opaque connection id of the form "c_" + 16 Base62 characters.
func ConnectionID() (string, error) {
	raw, err := base62(ConnectionIDRawLength)
	if err != nil {
		return "", fmt.Errorf("connection id: %w", err)
	}
	return ConnectionIDPrefix + raw, nil
}

// IsValidConnectionID checks if the given string has the shape produced by ConnectionID.
func IsValidConnectionID(id string) bool {
	if !strings.HasPrefix(id, ConnectionIDPrefix) {
		return false
	}

	rawID := id[len(ConnectionIDPrefix):]

	if len(rawID) != ConnectionIDRawLength {
		return false
	}

	for _, char := range rawID {
		if !strings.ContainsRune(Base62Chars, char) {
			return false
		}
	}

	return true
}

// EventID generates a standard UUID v4 string identifying one dispatched event.
func EventID() string {
	return uuid.New().String()
}
