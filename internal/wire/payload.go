package wire

import (
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"pulse/internal/domain"
	domaintypes "pulse/internal/domain/types"
)

// ErrUnknownKind is returned when decoding a payload tag this build does not know.
var ErrUnknownKind = errors.New("wire: unknown payload kind")

// content is the plaintext sealed inside every message ciphertext.
type content struct {
	Kind     domain.PayloadKind `cbor:"k"`
	Body     cbor.RawMessage    `cbor:"b"`
	Mentions []domain.UserID    `cbor:"m,omitempty"`
}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.EncOptions{Time: cbor.TimeRFC3339Nano}.EncMode()
	if err != nil {
		panic(err)
	}
	decMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic(err)
	}
}

// EncodePayload serialises p together with the message mentions.
func EncodePayload(p domain.Payload, mentions []domain.UserID) ([]byte, error) {
	if p == nil {
		return nil, errors.New("wire: nil payload")
	}
	body, err := encMode.Marshal(p)
	if err != nil {
		return nil, err
	}
	return encMode.Marshal(content{Kind: p.Kind(), Body: body, Mentions: mentions})
}

// DecodePayload is the inverse of EncodePayload.
func DecodePayload(b []byte) (domain.Payload, []domain.UserID, error) {
	var c content
	if err := decMode.Unmarshal(b, &c); err != nil {
		return nil, nil, err
	}
	p, err := decodeBody(c.Kind, c.Body)
	if err != nil {
		return nil, nil, err
	}
	return p, c.Mentions, nil
}

func decodeBody(kind domain.PayloadKind, body []byte) (domain.Payload, error) {
	switch kind {
	case domaintypes.KindText:
		return decodeAs[domaintypes.Text](body)
	case domaintypes.KindImage:
		return decodeAs[domaintypes.Image](body)
	case domaintypes.KindVideo:
		return decodeAs[domaintypes.Video](body)
	case domaintypes.KindAudio:
		return decodeAs[domaintypes.Audio](body)
	case domaintypes.KindLocation:
		return decodeAs[domaintypes.Location](body)
	case domaintypes.KindCall:
		return decodeAs[domaintypes.Call](body)
	case domaintypes.KindSystem:
		return decodeAs[domaintypes.System](body)
	case domaintypes.KindUnavailable:
		return decodeAs[domaintypes.Unavailable](body)
	case domaintypes.KindKeyShare:
		return decodeAs[domaintypes.KeyShare](body)
	default:
		return nil, fmt.Errorf("%w %q", ErrUnknownKind, kind)
	}
}

func decodeAs[T domain.Payload](body []byte) (domain.Payload, error) {
	var v T
	if err := decMode.Unmarshal(body, &v); err != nil {
		return nil, err
	}
	return v, nil
}

// Marshal encodes v with the package's CBOR options (RFC 3339 timestamps).
func Marshal(v any) ([]byte, error) { return encMode.Marshal(v) }

// Unmarshal decodes CBOR produced by Marshal.
func Unmarshal(b []byte, v any) error { return decMode.Unmarshal(b, v) }
