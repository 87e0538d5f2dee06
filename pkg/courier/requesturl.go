package courier

import (
	"strconv"
	"strings"
	"unicode/utf8"
)

// Query keys understood by the hosted web app.
const (
	KeyAccessToken    = "access_token"
	KeyTracking       = "tracking"
	KeyCitiboxID      = "citibox_id"
	KeyRecipientPhone = "recipient_phone"
	KeyRecipientHash  = "recipient_hash"
	KeyDimensions     = "dimensions"
	KeyBookingID      = "booking_id"
)

// Fallback values written in place of a value that cannot be percent-encoded.
const (
	InvalidAccessTokenToken   = "InvalidAccessToken"
	InvalidTrackingToken      = "InvalidTracking"
	InvalidPhoneToken         = "InvalidPhone"
	InvalidRecipientHashToken = "InvalidRecipientHash"
	InvalidDimensionsToken    = "InvalidDimensions"
	InvalidBookingIDToken     = "InvalidBookingId"
	InvalidCitiboxIDToken     = "InvalidCitiboxId"
)

// Params is implemented by DeliveryParams and RetrievalParams.
type Params interface {
	Operation() OperationKind
	Environment() Environment
	queryPairs() []queryPair
}

type charset func(c byte) bool

func alphanumerics(c byte) bool {
	return ('a' <= c && c <= 'z') || ('A' <= c && c <= 'Z') || ('0' <= c && c <= '9')
}

func decimalDigits(c byte) bool {
	return '0' <= c && c <= '9'
}

type queryPair struct {
	key      string
	value    string
	allowed  charset
	fallback string
}

func (p queryPair) String() string {
	encoded, ok := percentEncode(p.value, p.allowed)
	if !ok {
		encoded = p.fallback
	}
	return p.key + "=" + encoded
}

const upperHex = "0123456789ABCDEF"

// percentEncode escapes every UTF-8 byte outside the allowed set as %XX.
// It fails only for input that is not valid UTF-8.
func percentEncode(s string, allowed charset) (string, bool) {
	if !utf8.ValidString(s) {
		return "", false
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if allowed(c) {
			b.WriteByte(c)
			continue
		}
		b.WriteByte('%')
		b.WriteByte(upperHex[c>>4])
		b.WriteByte(upperHex[c&0x0f])
	}
	return b.String(), true
}

// BuildURL returns the fully qualified hosted web-app URL for p. It never
// fails: values that cannot be encoded are replaced by a fallback token.
func BuildURL(p Params) string {
	pairs := p.queryPairs()
	parts := make([]string, 0, len(pairs))
	for _, pair := range pairs {
		parts = append(parts, pair.String())
	}
	return p.Environment().Base() + "?" + strings.Join(parts, "&")
}

// Operation implements Params.
func (p DeliveryParams) Operation() OperationKind { return Delivery }

// Environment implements Params.
func (p DeliveryParams) Environment() Environment {
	return ResolveEnvironment(Delivery, p.Sandbox, p.Debug)
}

func (p DeliveryParams) queryPairs() []queryPair {
	pairs := []queryPair{
		{KeyAccessToken, p.AccessToken, alphanumerics, InvalidAccessTokenToken},
		{KeyTracking, p.Tracking, alphanumerics, InvalidTrackingToken},
	}
	if phone, ok := p.Recipient.Phone(); ok {
		pairs = append(pairs, queryPair{KeyRecipientPhone, phone, alphanumerics, InvalidPhoneToken})
	} else if hash, ok := p.Recipient.Hash(); ok {
		pairs = append(pairs, queryPair{KeyRecipientHash, hash, alphanumerics, InvalidRecipientHashToken})
	}
	if p.Dimensions.Complete() {
		pairs = append(pairs, queryPair{KeyDimensions, p.Dimensions.String(), decimalDigits, InvalidDimensionsToken})
	}
	if p.BookingID != "" {
		pairs = append(pairs, queryPair{KeyBookingID, p.BookingID, alphanumerics, InvalidBookingIDToken})
	}
	return pairs
}

// Operation implements Params.
func (p RetrievalParams) Operation() OperationKind { return Retrieval }

// Environment implements Params.
func (p RetrievalParams) Environment() Environment {
	return ResolveEnvironment(Retrieval, p.Sandbox, p.Debug)
}

func (p RetrievalParams) queryPairs() []queryPair {
	return []queryPair{
		{KeyAccessToken, p.AccessToken, alphanumerics, InvalidAccessTokenToken},
		{KeyCitiboxID, strconv.Itoa(p.CitiboxID), decimalDigits, InvalidCitiboxIDToken},
	}
}
