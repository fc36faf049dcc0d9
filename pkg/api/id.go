package api

import (
	"crypto/rand"
	"math/big"
	"regexp"
)

const (
	idLength = 24
	charset  = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

	generationIDPrefix = "gen_"
	recordIDPrefix     = "rec_"
)

var (
	generationIDPattern = regexp.MustCompile(`^gen_[a-zA-Z0-9]{24}$`)
	recordIDPattern     = regexp.MustCompile(`^rec_[a-zA-Z0-9]{24}$`)
)

// NewGenerationID generates a new generation ID with the "gen_" prefix
// followed by 24 cryptographically random alphanumeric characters.
func NewGenerationID() string {
	return generationIDPrefix + randomAlphanumeric(idLength)
}

// NewRecordID generates a new usage record ID with the "rec_" prefix
// followed by 24 cryptographically random alphanumeric characters.
func NewRecordID() string {
	return recordIDPrefix + randomAlphanumeric(idLength)
}

// ValidateGenerationID checks whether the given string is a valid generation
// ID (matches "gen_" + 24 alphanumeric characters).
func ValidateGenerationID(id string) bool {
	return generationIDPattern.MatchString(id)
}

// ValidateRecordID checks whether the given string is a valid usage record ID
// (matches "rec_" + 24 alphanumeric characters).
func ValidateRecordID(id string) bool {
	return recordIDPattern.MatchString(id)
}

func randomAlphanumeric(n int) string {
	max := big.NewInt(int64(len(charset)))
	b := make([]byte, n)
	for i := range b {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			panic("crypto/rand failed: " + err.Error())
		}
		b[i] = charset[idx.Int64()]
	}
	return string(b)
}
