// Package envelope parses inbound certificate messages. Kore publishes either plain JSON
// or a JMS text message rendered by the broker bridge, where the JSON payload follows an
// RMQTextMessage header.
package envelope

import (
	"bytes"
	"encoding/json"

	"github.com/eon/kore-relay/internal/models"
	"github.com/eon/kore-relay/internal/relayerrors"
)

// Marker identifies a body wrapped in a JMS text message envelope.
const Marker = "RMQTextMessage"

// Format is the wire format an inbound body was recognised as.
type Format int

const (
	// FormatRaw is a body that is the JSON document itself.
	FormatRaw Format = iota
	// FormatEnveloped is a body whose JSON document follows an RMQTextMessage header.
	FormatEnveloped
)

// String returns the metric/log label for the format.
func (f Format) String() string {
	switch f {
	case FormatRaw:
		return "raw"
	case FormatEnveloped:
		return "enveloped"
	default:
		return "unknown"
	}
}

// Payload is a parsed inbound body: its format and the JSON bytes to decode.
type Payload struct {
	Format Format
	JSON   []byte
	// Offset is where JSON starts in the original body (always 0 for raw payloads).
	Offset int
}

// Parse classifies body and extracts the JSON document. It does not decode the JSON.
func Parse(body []byte) (Payload, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return Payload{}, relayerrors.NewMalformedMessageError("", "message body is empty", nil)
	}

	if !bytes.Contains(body, []byte(Marker)) {
		return Payload{Format: FormatRaw, JSON: body}, nil
	}

	idx := bytes.IndexByte(body, '{')
	if idx < 0 {
		return Payload{}, relayerrors.NewMalformedMessageError(FormatEnveloped.String(), "no JSON payload after "+Marker+" header", nil)
	}

	return Payload{Format: FormatEnveloped, JSON: body[idx:], Offset: idx}, nil
}

// Decode parses body and decodes the certificate message it carries. Both formats must hold
// exactly one JSON document: anything after it other than whitespace, including an envelope
// trailer such as the closing "]" of RMQTextMessage[text={...}], fails the message.
func Decode(body []byte) (*models.CertificateMessage, Format, error) {
	payload, err := Parse(body)
	if err != nil {
		return nil, FormatRaw, err
	}

	var msg models.CertificateMessage
	if err := json.Unmarshal(payload.JSON, &msg); err != nil {
		return nil, payload.Format, relayerrors.NewMalformedMessageError(payload.Format.String(), "not a valid certificate message", err)
	}

	return &msg, payload.Format, nil
}
