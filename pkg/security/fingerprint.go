package security

import (
	"bytes"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
)

// ErrInvalidInput is returned when a payload cannot be fingerprinted.
var ErrInvalidInput = errors.New("invalid input")

var pdfHeader = []byte("%PDF-")

// Hash is the lowercase hex SHA-256 digest of a document's exact bytes.
type Hash string

func (h Hash) String() string {
	return string(h)
}

// Fingerprinter computes and checks content fingerprints for PDF byte streams.
type Fingerprinter interface {
	Fingerprint(b []byte) (Hash, error)
	Matches(h Hash, b []byte) bool
}

type sha256Fingerprinter struct{}

// NewFingerprinter returns the SHA-256 engine. Fingerprint rejects payloads
// that do not carry a PDF header.
func NewFingerprinter() Fingerprinter {
	return &sha256Fingerprinter{}
}

func (f *sha256Fingerprinter) Fingerprint(b []byte) (Hash, error) {
	if len(b) == 0 {
		return "", fmt.Errorf("%w: empty payload", ErrInvalidInput)
	}
	if !bytes.HasPrefix(b, pdfHeader) {
		return "", fmt.Errorf("%w: payload is not a PDF", ErrInvalidInput)
	}
	sum := sha256.Sum256(b)
	return Hash(hex.EncodeToString(sum[:])), nil
}

// Matches never applies the header policy: a damaged file simply does not match.
func (f *sha256Fingerprinter) Matches(h Hash, b []byte) bool {
	want, err := hex.DecodeString(string(h))
	if err != nil || len(want) != sha256.Size {
		return false
	}
	sum := sha256.Sum256(b)
	return subtle.ConstantTimeCompare(want, sum[:]) == 1
}
