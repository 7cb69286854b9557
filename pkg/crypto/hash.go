package crypto

import (
	"errors"

	"golang.org/x/crypto/bcrypt"
)

// Ошибки хеширования API токена
var (
	ErrEmptyToken    = errors.New("token cannot be empty")
	ErrTokenMismatch = errors.New("token does not match hash")
	ErrInvalidHash   = errors.New("invalid token hash format")
	ErrTokenTooLong  = errors.New("token exceeds maximum length of 72 bytes")
)

// DefaultCost - стоимость хеширования по умолчанию
const DefaultCost = 12

// MaxTokenLength - bcrypt учитывает только первые 72 байта
const MaxTokenLength = 72

// HashToken хеширует API токен bcrypt. cost вне [bcrypt.MinCost, bcrypt.MaxCost]
// приводится к границе, 0 означает DefaultCost.
func HashToken(token string, cost int) (string, error) {
	if token == "" {
		return "", ErrEmptyToken
	}
	if len(token) > MaxTokenLength {
		return "", ErrTokenTooLong
	}

	switch {
	case cost == 0:
		cost = DefaultCost
	case cost < bcrypt.MinCost:
		cost = bcrypt.MinCost
	case cost > bcrypt.MaxCost:
		cost = bcrypt.MaxCost
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(token), cost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// VerifyToken сравнивает токен с хешем за постоянное время
func VerifyToken(token, hash string) error {
	if token == "" {
		return ErrEmptyToken
	}
	if hash == "" {
		return ErrInvalidHash
	}

	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(token)); err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return ErrTokenMismatch
		}
		return ErrInvalidHash
	}
	return nil
}

// HashCost извлекает cost из хеша; ошибка означает, что строка не bcrypt-хеш
func HashCost(hash string) (int, error) {
	if hash == "" {
		return 0, ErrInvalidHash
	}
	cost, err := bcrypt.Cost([]byte(hash))
	if err != nil {
		return 0, ErrInvalidHash
	}
	return cost, nil
}
