package courier

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	ErrUnknownChannel   = errors.New("unknown result channel")
	ErrUnknownOperation = errors.New("unknown operation kind")
	ErrMalformedPayload = errors.New("malformed result payload")
	ErrMissingField     = errors.New("result payload is missing a required field")
)

type successWire struct {
	BoxNumber  *int    `json:"boxNumber"`
	CitiboxID  *int    `json:"citiboxId"`
	DeliveryID *string `json:"deliveryId"`
}

type codeWire struct {
	Code *string `json:"code"`
}

// Decode maps a message posted on channel into the Outcome variant for kind.
// It returns a nil Outcome and an error for unknown channels, payloads that
// are not a key/value object, and missing or mistyped fields. It never panics.
func Decode(channel string, payload any, kind OperationKind) (Outcome, error) {
	c := Channel(channel)
	if !c.Known() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownChannel, channel)
	}
	if kind != Delivery && kind != Retrieval {
		return nil, fmt.Errorf("%w: %v", ErrUnknownOperation, kind)
	}

	obj, err := normalizePayload(payload)
	if err != nil {
		return nil, err
	}
	// Round-trip through JSON so field types are checked the same way whether
	// the payload arrived as bytes or as an already parsed object.
	data, err := json.Marshal(obj)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	if c == ChannelSuccess {
		var w successWire
		if err := json.Unmarshal(data, &w); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
		}
		if w.BoxNumber == nil {
			return nil, fmt.Errorf("%w: boxNumber", ErrMissingField)
		}
		if w.CitiboxID == nil {
			return nil, fmt.Errorf("%w: citiboxId", ErrMissingField)
		}
		if kind == Retrieval {
			return RetrievalSuccess{BoxNumber: *w.BoxNumber, CitiboxID: *w.CitiboxID}, nil
		}
		if w.DeliveryID == nil {
			return nil, fmt.Errorf("%w: deliveryId", ErrMissingField)
		}
		return DeliverySuccess{BoxNumber: *w.BoxNumber, CitiboxID: *w.CitiboxID, DeliveryID: *w.DeliveryID}, nil
	}

	var w codeWire
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if w.Code == nil {
		return nil, fmt.Errorf("%w: code", ErrMissingField)
	}
	code := *w.Code

	switch {
	case kind == Delivery && c == ChannelCancel:
		return DeliveryCancel{Code: code}, nil
	case kind == Delivery && c == ChannelError:
		return DeliveryError{Code: code}, nil
	case kind == Delivery && c == ChannelFail:
		return DeliveryFailure{Code: code}, nil
	case kind == Retrieval && c == ChannelCancel:
		return RetrievalCancel{Code: code}, nil
	case kind == Retrieval && c == ChannelError:
		return RetrievalError{Code: code}, nil
	default:
		return RetrievalFailure{Code: code}, nil
	}
}

func normalizePayload(payload any) (map[string]any, error) {
	switch v := payload.(type) {
	case map[string]any:
		if v == nil {
			return nil, fmt.Errorf("%w: nil object", ErrMalformedPayload)
		}
		return v, nil
	case json.RawMessage:
		return parseObject(v)
	case []byte:
		return parseObject(v)
	case string:
		return parseObject([]byte(v))
	case nil:
		return nil, fmt.Errorf("%w: empty payload", ErrMalformedPayload)
	default:
		return nil, fmt.Errorf("%w: unsupported payload type %T", ErrMalformedPayload, payload)
	}
}

func parseObject(data []byte) (map[string]any, error) {
	var obj map[string]any
	if err := json.Unmarshal(data, &obj); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if obj == nil {
		return nil, fmt.Errorf("%w: payload is not an object", ErrMalformedPayload)
	}
	return obj, nil
}

// EncodePayload returns the payload the hosted page posts for o. Decoding it
// on o.Channel() yields a value equal to o.
func EncodePayload(o Outcome) map[string]any {
	switch v := o.(type) {
	case DeliverySuccess:
		return map[string]any{"boxNumber": v.BoxNumber, "citiboxId": v.CitiboxID, "deliveryId": v.DeliveryID}
	case RetrievalSuccess:
		return map[string]any{"boxNumber": v.BoxNumber, "citiboxId": v.CitiboxID}
	case DeliveryCancel:
		return map[string]any{"code": v.Code}
	case DeliveryError:
		return map[string]any{"code": v.Code}
	case DeliveryFailure:
		return map[string]any{"code": v.Code}
	case RetrievalCancel:
		return map[string]any{"code": v.Code}
	case RetrievalError:
		return map[string]any{"code": v.Code}
	case RetrievalFailure:
		return map[string]any{"code": v.Code}
	}
	return nil
}

// Envelope is the storable form of an Outcome.
type Envelope struct {
	Operation string          `json:"operation"`
	Channel   string          `json:"channel"`
	Payload   json.RawMessage `json:"payload"`
}

// NewEnvelope wraps o for storage or transport.
func NewEnvelope(o Outcome) (Envelope, error) {
	if o == nil {
		return Envelope{}, errors.New("nil outcome")
	}
	payload, err := json.Marshal(EncodePayload(o))
	if err != nil {
		return Envelope{}, fmt.Errorf("failed to marshal outcome payload: %w", err)
	}
	return Envelope{
		Operation: o.Operation().String(),
		Channel:   string(o.Channel()),
		Payload:   payload,
	}, nil
}

// Outcome decodes the envelope back into its Outcome variant.
func (e Envelope) Outcome() (Outcome, error) {
	kind, err := ParseOperationKind(e.Operation)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnknownOperation, err)
	}
	return Decode(e.Channel, e.Payload, kind)
}
