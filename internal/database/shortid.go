package database

import (
	"crypto/rand"
	"math/big"
)

const (
	// recordIDLength matches the 12-char URL-safe unique token format.
	recordIDLength  = 12
	recordIDCharset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
)

// GenerateRecordID returns a 12-character URL-safe random token suitable
// for use as a record id.
func GenerateRecordID() string {
	return randomToken(recordIDLength, recordIDCharset)
}

func randomToken(length int, charset string) string {
	result := make([]byte, length)
	charsetLen := big.NewInt(int64(len(charset)))

	for i := 0; i < length; i++ {
		num, err := rand.Int(rand.Reader, charsetLen)
		if err != nil {
			num = big.NewInt(0)
		}
		result[i] = charset[num.Int64()]
	}

	return string(result)
}
