package security

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func samplePDF() []byte {
	return []byte("%PDF-1.7\n1 0 obj << /Type /Catalog >> endobj\ntrailer << /Root 1 0 R >>\n%%EOF\n")
}

func TestFingerprintMatchesOwnBytes(t *testing.T) {
	f := NewFingerprinter()
	b := samplePDF()

	h, err := f.Fingerprint(b)
	require.NoError(t, err)
	assert.Len(t, h.String(), 64)
	assert.True(t, f.Matches(h, b))
}

func TestFingerprintIsDeterministic(t *testing.T) {
	f := NewFingerprinter()
	h1, err := f.Fingerprint(samplePDF())
	require.NoError(t, err)
	h2, err := f.Fingerprint(samplePDF())
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
}

func TestMatchesDetectsSingleByteFlip(t *testing.T) {
	f := NewFingerprinter()
	b := samplePDF()
	h, err := f.Fingerprint(b)
	require.NoError(t, err)

	for _, i := range []int{0, len(b) / 2, len(b) - 1} {
		tampered := append([]byte(nil), b...)
		tampered[i] ^= 0x01
		assert.False(t, f.Matches(h, tampered), "flip at %d", i)
	}
	assert.False(t, f.Matches(h, append(b, '\n')))
	assert.False(t, f.Matches(h, nil))
}

func TestFingerprintRejectsInvalidInput(t *testing.T) {
	f := NewFingerprinter()

	_, err := f.Fingerprint(nil)
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = f.Fingerprint([]byte("PK\x03\x04 not a pdf"))
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestMatchesRejectsMalformedHash(t *testing.T) {
	f := NewFingerprinter()
	assert.False(t, f.Matches("not-hex", samplePDF()))
	assert.False(t, f.Matches("abcd", samplePDF()))
}

func TestAccessCode(t *testing.T) {
	hashed, err := HashAccessCode("s3cret")
	require.NoError(t, err)

	assert.True(t, CompareAccessCode(hashed, "s3cret"))
	assert.True(t, CompareAccessCode(hashed, " s3cret "))
	assert.False(t, CompareAccessCode(hashed, "wrong"))
	assert.False(t, CompareAccessCode("", "s3cret"))

	_, err = HashAccessCode("ab")
	assert.ErrorIs(t, err, ErrInvalidInput)
}
