package app

import (
	"crypto/rand"
	"math/big"

	"golang.org/x/crypto/bcrypt"

	"Gin_postgres_redis_lending_portal/apperr"
)

const (
	MinPasswordLength = 8
	// bcrypt only reads the first 72 bytes
	MaxPasswordBytes = 72
)

var (
	ErrWeakPassword    = apperr.New(apperr.KindValidation, "WEAK_PASSWORD", "password must be at least 8 characters")
	ErrPasswordTooLong = apperr.New(apperr.KindValidation, "PASSWORD_TOO_LONG", "password must be at most 72 bytes")
)

func HashPassword(pw string) (string, error) {
	if len(pw) < MinPasswordLength {
		return "", ErrWeakPassword
	}
	if len(pw) > MaxPasswordBytes {
		return "", ErrPasswordTooLong
	}
	b, err := bcrypt.GenerateFromPassword([]byte(pw), bcrypt.DefaultCost)
	return string(b), err
}

func CheckPassword(hash, pw string) bool {
	if hash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(pw)) == nil
}

// TempPassword returns a random password with at least one letter and one
// digit, skipping look-alike characters.
func TempPassword(length int) (string, error) {
	const letters = "abcdefghijkmnpqrstuvwxyzABCDEFGHJKLMNPQRSTUVWXYZ"
	const digits = "23456789"
	const all = letters + digits

	if length < MinPasswordLength {
		length = MinPasswordLength
	}
	pick := func(set string) (byte, error) {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(set))))
		if err != nil {
			return 0, err
		}
		return set[n.Int64()], nil
	}

	out := make([]byte, length)
	var err error
	if out[0], err = pick(letters); err != nil {
		return "", err
	}
	if out[1], err = pick(digits); err != nil {
		return "", err
	}
	for i := 2; i < length; i++ {
		if out[i], err = pick(all); err != nil {
			return "", err
		}
	}
	// shuffle so the letter/digit slots are not predictable
	for i := length - 1; i > 0; i-- {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(i+1)))
		if err != nil {
			return "", err
		}
		j := n.Int64()
		out[i], out[j] = out[j], out[i]
	}
	return string(out), nil
}
