package model

import (
	"crypto/sha1" //nolint:gosec // G505: SHA-1 используется как ключ адресации содержимого, не для безопасности
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"strings"
)

// DigestSize — длина SHA-1 дайджеста в байтах.
const DigestSize = sha1.Size

// ErrInvalidDigest — строка не является 40-символьным hex-представлением SHA-1.
var ErrInvalidDigest = errors.New("некорректный SHA-1 дайджест")

// Digest — SHA-1 дайджест содержимого файла.
// Не является криптографической гарантией: SHA-1 не устойчив к коллизиям.
type Digest [DigestSize]byte

// SumBytes вычисляет дайджест полного содержимого.
func SumBytes(b []byte) Digest {
	return sha1.Sum(b) //nolint:gosec // см. комментарий к импорту
}

// NewHasher возвращает hash.Hash для потокового вычисления Digest.
func NewHasher() hash.Hash {
	return sha1.New() //nolint:gosec // см. комментарий к импорту
}

// DigestFromHash извлекает Digest из заполненного hasher'а.
func DigestFromHash(h hash.Hash) Digest {
	var d Digest
	copy(d[:], h.Sum(nil))
	return d
}

// ParseDigest разбирает hex-строку дайджеста.
// Пробелы по краям отбрасываются, регистр нормализуется к нижнему.
func ParseDigest(s string) (Digest, error) {
	var d Digest

	s = strings.ToLower(strings.TrimSpace(s))
	if len(s) != hex.EncodedLen(DigestSize) {
		return d, fmt.Errorf("%w: ожидается %d hex-символов, получено %d",
			ErrInvalidDigest, hex.EncodedLen(DigestSize), len(s))
	}

	if _, err := hex.Decode(d[:], []byte(s)); err != nil {
		return d, fmt.Errorf("%w: %v", ErrInvalidDigest, err)
	}
	return d, nil
}

// Hex возвращает дайджест в виде lowercase hex (формат хранения sha1_hash).
func (d Digest) Hex() string {
	return hex.EncodeToString(d[:])
}

// String реализует fmt.Stringer.
func (d Digest) String() string {
	return d.Hex()
}

// IsZero возвращает true для нулевого значения.
func (d Digest) IsZero() bool {
	return d == Digest{}
}
