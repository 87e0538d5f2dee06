package courier

// Outcome is the terminal result of a presentation session. The concrete type
// is one of the eight variants below; consumers switch on it:
//
//	switch o := outcome.(type) {
//	case courier.DeliverySuccess:
//	case courier.DeliveryCancel:
//	...
//	}
type Outcome interface {
	Operation() OperationKind
	Channel() Channel
	sealed()
}

// DeliverySuccess: the parcel was deposited in the box.
type DeliverySuccess struct {
	BoxNumber  int    `json:"boxNumber"`
	CitiboxID  int    `json:"citiboxId"`
	DeliveryID string `json:"deliveryId"`
}

// DeliveryCancel: the courier cancelled on purpose.
type DeliveryCancel struct {
	Code string `json:"code"`
}

// DeliveryError: mandatory data was missing or invalid.
type DeliveryError struct {
	Code string `json:"code"`
}

// DeliveryFailure: the parcel could not be deposited because of a problem.
type DeliveryFailure struct {
	Code string `json:"code"`
}

// RetrievalSuccess: the parcel was retrieved from the box.
type RetrievalSuccess struct {
	BoxNumber int `json:"boxNumber"`
	CitiboxID int `json:"citiboxId"`
}

// RetrievalCancel: the courier cancelled on purpose.
type RetrievalCancel struct {
	Code string `json:"code"`
}

// RetrievalError: mandatory data was missing or invalid.
type RetrievalError struct {
	Code string `json:"code"`
}

// RetrievalFailure: the parcel could not be retrieved because of a problem.
type RetrievalFailure struct {
	Code string `json:"code"`
}

func (DeliverySuccess) Operation() OperationKind  { return Delivery }
func (DeliveryCancel) Operation() OperationKind   { return Delivery }
func (DeliveryError) Operation() OperationKind    { return Delivery }
func (DeliveryFailure) Operation() OperationKind  { return Delivery }
func (RetrievalSuccess) Operation() OperationKind { return Retrieval }
func (RetrievalCancel) Operation() OperationKind  { return Retrieval }
func (RetrievalError) Operation() OperationKind   { return Retrieval }
func (RetrievalFailure) Operation() OperationKind { return Retrieval }

func (DeliverySuccess) Channel() Channel  { return ChannelSuccess }
func (DeliveryCancel) Channel() Channel   { return ChannelCancel }
func (DeliveryError) Channel() Channel    { return ChannelError }
func (DeliveryFailure) Channel() Channel  { return ChannelFail }
func (RetrievalSuccess) Channel() Channel { return ChannelSuccess }
func (RetrievalCancel) Channel() Channel  { return ChannelCancel }
func (RetrievalError) Channel() Channel   { return ChannelError }
func (RetrievalFailure) Channel() Channel { return ChannelFail }

func (DeliverySuccess) sealed()  {}
func (DeliveryCancel) sealed()   {}
func (DeliveryError) sealed()    {}
func (DeliveryFailure) sealed()  {}
func (RetrievalSuccess) sealed() {}
func (RetrievalCancel) sealed()  {}
func (RetrievalError) sealed()   {}
func (RetrievalFailure) sealed() {}

// Delivery error codes.
const (
	CodeTrackingMissing              = "tracking_missing"
	CodeAccessTokenMissing           = "access_token_missing"
	CodeRecipientPhoneMissing        = "recipient_phone_missing"
	CodeDuplicatedTrackings          = "duplicated_trackings"
	CodeRecipientPhoneInvalid        = "recipient_phone_invalid"
	CodeAccessTokenInvalid           = "access_token_invalid"
	CodeAccessTokenPermissionsDenied = "access_token_permissions_denied"
)

// Retrieval error codes, in addition to the access token ones above.
const (
	CodeCitiboxIDMissing = "citibox_id_missing"
	CodeWrongLocation    = "wrong_location"
)

// Failure codes.
const (
	CodeBoxNotAvailable           = "box_not_available"
	CodeUserBlocked               = "user_blocked"
	CodeUserAutocreationForbidden = "user_autocreation_forbidden"
	CodeMaxReopensExceed          = "max_reopens_exceed"
	CodeParcelNotAvailable        = "parcel_not_available"
	CodeEmptyBox                  = "empty_box"
)

// Cancel codes.
const (
	CodeNotStarted       = "not_started"
	CodeCantOpenBoxes    = "cant_open_boxes"
	CodeParcelMistaken   = "parcel_mistaken"
	CodePackageInBox     = "package_in_box"
	CodeNeedHandDelivery = "need_hand_delivery"
	CodeOther            = "other"
)

// Code returns the result code carried by a cancel, error or failure outcome,
// and false for successes.
func Code(o Outcome) (string, bool) {
	switch v := o.(type) {
	case DeliveryCancel:
		return v.Code, true
	case DeliveryError:
		return v.Code, true
	case DeliveryFailure:
		return v.Code, true
	case RetrievalCancel:
		return v.Code, true
	case RetrievalError:
		return v.Code, true
	case RetrievalFailure:
		return v.Code, true
	}
	return "", false
}
