/*
Package randx provides functions for generating cryptographically secure
random numbers and nickname candidates used during the handshake.
*/
package randx

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"time"
)

const (
	// Base62Chars defines the character set used for Base62 encoding (0-9, A-Z, a-z).
	Base62Chars = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

	// Base62Len is the total number of characters in the Base62 character set (62).
	Base62Len = int64(len(Base62Chars))

	// randomNicknameCeiling bounds the numeric suffix of a random "User<n>" candidate.
	randomNicknameCeiling = 10000

	// guestSuffixLength is the length of the random Base62 portion of a Guest<suffix> fallback.
	guestSuffixLength = 4
)

// RandomNicknameCandidate generates a candidate of the form "User<n>",
// n in [0, randomNicknameCeiling).
func RandomNicknameCandidate() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(randomNicknameCeiling))
	if err != nil {
		return "", fmt.Errorf("failed to generate random nickname suffix: %w", err)
	}

	return fmt.Sprintf("User%d", n.Int64()), nil
}

// GuestNickname builds a fallback nickname once too many RandomNicknameCandidate
// attempts have collided. The suffix mixes the current time with a short random
// Base62 string so that two sessions falling back in the same instant still differ.
func GuestNickname() (string, error) {
	random := make([]byte, guestSuffixLength)
	for i := range random {
		n, err := rand.Int(rand.Reader, big.NewInt(Base62Len))
		if err != nil {
			return "", fmt.Errorf("failed to generate guest nickname suffix: %w", err)
		}
		random[i] = Base62Chars[n.Int64()]
	}

	return fmt.Sprintf("Guest%d%s", time.Now().UnixNano()%100000, random), nil
}
