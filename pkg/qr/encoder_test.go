package qr

import (
	"bytes"
	"image/png"
	"strings"
	"testing"
	"time"

	"github.com/makiuchi-d/gozxing"
	gozxingqr "github.com/makiuchi-d/gozxing/qrcode"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeImage(t *testing.T, data []byte) *Payload {
	t.Helper()

	img, err := png.Decode(bytes.NewReader(data))
	require.NoError(t, err)

	bmp, err := gozxing.NewBinaryBitmapFromImage(img)
	require.NoError(t, err)

	result, err := gozxingqr.NewQRCodeReader().Decode(bmp, nil)
	require.NoError(t, err)

	payload, err := Parse(result.GetText())
	require.NoError(t, err)
	return payload
}

func fixedClock() time.Time {
	return time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
}

func TestEncodeRoundTrip(t *testing.T) {
	enc := NewEncoder(WithClock(fixedClock))
	hash := strings.Repeat("ab", 32)

	payload, img, err := enc.Encode("0b7c8a9e-4f7e-4f55-9a51-7f3b0e0c1d2a", "https://sign.example.com/validate/0b7c8a9e-4f7e-4f55-9a51-7f3b0e0c1d2a", hash, true)
	require.NoError(t, err)
	assert.Equal(t, "2026-03-14T09:26:53Z", payload.Timestamp)

	decoded := decodeImage(t, img)
	assert.Equal(t, payload.DocumentID, decoded.DocumentID)
	assert.Equal(t, payload.URL, decoded.URL)
	assert.Equal(t, hash, decoded.Hash)
	assert.True(t, decoded.Protected)
	assert.Equal(t, payload.Timestamp, decoded.Timestamp)
}

func TestEncodeWithoutHash(t *testing.T) {
	enc := NewEncoder()
	_, img, err := enc.Encode("doc-1", "https://sign.example.com/validate/doc-1", "", false)
	require.NoError(t, err)

	decoded := decodeImage(t, img)
	assert.Empty(t, decoded.Hash)
	assert.False(t, decoded.Protected)
}

func TestEncodeFixedFootprint(t *testing.T) {
	enc := NewEncoder()
	_, img, err := enc.Encode("doc-1", "https://sign.example.com/validate/doc-1", strings.Repeat("0", 64), false)
	require.NoError(t, err)

	cfg, err := png.DecodeConfig(bytes.NewReader(img))
	require.NoError(t, err)
	assert.Equal(t, DefaultSize, cfg.Width)
	assert.Equal(t, DefaultSize, cfg.Height)
}

func TestEncodeIsStableExceptTimestamp(t *testing.T) {
	enc := NewEncoder(WithClock(fixedClock))
	_, a, err := enc.Encode("doc-1", "https://sign.example.com/validate/doc-1", "", false)
	require.NoError(t, err)
	_, b, err := enc.Encode("doc-1", "https://sign.example.com/validate/doc-1", "", false)
	require.NoError(t, err)

	assert.Equal(t, decodeImage(t, a), decodeImage(t, b))
}

func TestEncodeMissingFields(t *testing.T) {
	enc := NewEncoder()

	_, _, err := enc.Encode("", "https://sign.example.com/validate/x", "", false)
	assert.ErrorIs(t, err, ErrMissingField)

	_, _, err = enc.Encode("doc-1", "  ", "", false)
	assert.ErrorIs(t, err, ErrMissingField)
}

func TestEncodeRejectsOversizedPayload(t *testing.T) {
	enc := NewEncoder()
	longURL := "https://sign.example.com/validate/" + strings.Repeat("x", 2000)

	_, _, err := enc.Encode("doc-1", longURL, "", false)
	assert.ErrorIs(t, err, ErrEncoding)
}
