// Package qr builds validation payloads and renders them as QR code images.
package qr

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	qrcode "github.com/skip2/go-qrcode"
)

var (
	// ErrMissingField is returned when a required payload field is empty.
	ErrMissingField = errors.New("missing field")
	// ErrEncoding is returned when the payload cannot be rendered as a QR symbol.
	ErrEncoding = errors.New("encoding error")
)

const (
	DefaultSize = 300
	// DefaultMaxPayloadBytes stays under the 1273 byte capacity of a
	// version 40 symbol at the highest recovery level.
	DefaultMaxPayloadBytes = 1024
)

// Payload is the structure embedded in a validation QR code.
type Payload struct {
	URL        string `json:"url"`
	DocumentID string `json:"documentId"`
	Hash       string `json:"hash,omitempty"`
	Timestamp  string `json:"timestamp"`
	Protected  bool   `json:"protected"`
}

// Encoder renders payloads as fixed size PNG images with high error correction.
type Encoder struct {
	size            int
	maxPayloadBytes int
	now             func() time.Time
}

type Option func(*Encoder)

func WithSize(px int) Option {
	return func(e *Encoder) {
		if px > 0 {
			e.size = px
		}
	}
}

func WithMaxPayloadBytes(n int) Option {
	return func(e *Encoder) {
		if n > 0 {
			e.maxPayloadBytes = n
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(e *Encoder) {
		if now != nil {
			e.now = now
		}
	}
}

func NewEncoder(opts ...Option) *Encoder {
	e := &Encoder{
		size:            DefaultSize,
		maxPayloadBytes: DefaultMaxPayloadBytes,
		now:             time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Encode builds the payload for a document and renders it. Hash may be empty
// for documents that are not signed yet.
func (e *Encoder) Encode(documentID, validationURL, hash string, protected bool) (*Payload, []byte, error) {
	payload, err := e.Build(documentID, validationURL, hash, protected)
	if err != nil {
		return nil, nil, err
	}
	img, err := e.Render(payload)
	if err != nil {
		return nil, nil, err
	}
	return payload, img, nil
}

// Build assembles a payload stamped with the current time.
func (e *Encoder) Build(documentID, validationURL, hash string, protected bool) (*Payload, error) {
	if strings.TrimSpace(documentID) == "" {
		return nil, fmt.Errorf("%w: documentId", ErrMissingField)
	}
	if strings.TrimSpace(validationURL) == "" {
		return nil, fmt.Errorf("%w: url", ErrMissingField)
	}
	return &Payload{
		URL:        validationURL,
		DocumentID: documentID,
		Hash:       hash,
		Timestamp:  e.now().UTC().Format(time.RFC3339),
		Protected:  protected,
	}, nil
}

// Render serializes the payload as compact JSON and draws it.
func (e *Encoder) Render(p *Payload) ([]byte, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncoding, err)
	}
	if len(data) > e.maxPayloadBytes {
		return nil, fmt.Errorf("%w: payload is %d bytes, limit %d", ErrEncoding, len(data), e.maxPayloadBytes)
	}

	code, err := qrcode.New(string(data), qrcode.Highest)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncoding, err)
	}
	png, err := code.PNG(e.size)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncoding, err)
	}
	return png, nil
}

// Parse decodes the text carried by a scanned symbol.
func Parse(text string) (*Payload, error) {
	var p Payload
	if err := json.Unmarshal([]byte(text), &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncoding, err)
	}
	return &p, nil
}
