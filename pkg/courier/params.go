package courier

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strconv"
	"strings"
)

// InvalidCitiboxID marks a citibox id that could not be resolved from caller
// input. It is sent as-is so the hosted page reports it instead of silently
// looking up id zero.
const InvalidCitiboxID = -1

var (
	ErrMissingAccessToken = errors.New("access token is required")
	ErrMissingTracking    = errors.New("tracking is required")
	ErrMissingRecipient   = errors.New("recipient phone or hash is required")
	ErrInvalidCitiboxID   = errors.New("citibox id is missing or invalid")
)

type recipientKind int

const (
	recipientUnset recipientKind = iota
	recipientPhone
	recipientHash
)

// Recipient identifies the addressee either by raw E.164 phone number or by
// its sha256 hex hash. The zero value is unset.
type Recipient struct {
	kind  recipientKind
	value string
}

// PhoneRecipient addresses the parcel to an E.164 phone number.
func PhoneRecipient(e164 string) Recipient {
	return Recipient{kind: recipientPhone, value: e164}
}

// HashedPhoneRecipient addresses the parcel to a sha256 hex phone hash.
func HashedPhoneRecipient(sha256Hex string) Recipient {
	return Recipient{kind: recipientHash, value: sha256Hex}
}

// Phone returns the phone number when the recipient is phone based.
func (r Recipient) Phone() (string, bool) {
	return r.value, r.kind == recipientPhone
}

// Hash returns the phone hash when the recipient is hash based.
func (r Recipient) Hash() (string, bool) {
	return r.value, r.kind == recipientHash
}

// IsZero reports whether neither form was set.
func (r Recipient) IsZero() bool {
	return r.kind == recipientUnset
}

// HashPhone returns the lowercase sha256 hex digest of a phone number, the
// form expected by HashedPhoneRecipient.
func HashPhone(phone string) string {
	sum := sha256.Sum256([]byte(phone))
	return hex.EncodeToString(sum[:])
}

// Dimensions of a parcel in millimetres.
type Dimensions struct {
	Height string
	Width  string
	Length string
}

// NewDimensions builds Dimensions from integer millimetre values.
func NewDimensions(height, width, length int) *Dimensions {
	return &Dimensions{
		Height: strconv.Itoa(height),
		Width:  strconv.Itoa(width),
		Length: strconv.Itoa(length),
	}
}

// Complete reports whether all three components are present.
func (d *Dimensions) Complete() bool {
	return d != nil && d.Height != "" && d.Width != "" && d.Length != ""
}

// String renders {height}x{width}x{length}.
func (d *Dimensions) String() string {
	if d == nil {
		return ""
	}
	return d.Height + "x" + d.Width + "x" + d.Length
}

// DeliveryParams are the inputs of a delivery workflow. BookingID is omitted
// from the URL when empty.
type DeliveryParams struct {
	AccessToken string
	Tracking    string
	Recipient   Recipient
	Dimensions  *Dimensions
	BookingID   string
	Sandbox     bool
	Debug       bool
}

// Validate reports the first missing required field.
func (p DeliveryParams) Validate() error {
	switch {
	case p.AccessToken == "":
		return ErrMissingAccessToken
	case p.Tracking == "":
		return ErrMissingTracking
	case p.Recipient.IsZero() || p.Recipient.value == "":
		return ErrMissingRecipient
	}
	return nil
}

// RetrievalParams are the inputs of a retrieval workflow.
type RetrievalParams struct {
	AccessToken string
	CitiboxID   int
	Sandbox     bool
	Debug       bool
}

// Validate reports the first missing or invalid required field.
func (p RetrievalParams) Validate() error {
	switch {
	case p.AccessToken == "":
		return ErrMissingAccessToken
	case p.CitiboxID < 0:
		return ErrInvalidCitiboxID
	}
	return nil
}

// ParseCitiboxID converts caller input into a citibox id, returning
// InvalidCitiboxID for empty or non-numeric input.
func ParseCitiboxID(s string) int {
	s = strings.TrimSpace(s)
	if s == "" {
		return InvalidCitiboxID
	}
	id, err := strconv.Atoi(s)
	if err != nil || id < 0 {
		return InvalidCitiboxID
	}
	return id
}
