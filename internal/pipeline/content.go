package pipeline

import (
	"fmt"
	"strconv"

	"github.com/tinywideclouds/go-courier-bridge/pkg/courier"
	"github.com/tinywideclouds/go-courier-bridge/pkg/dispatch"
	"github.com/tinywideclouds/go-platform/pkg/notification/v1"
)

// Data payload keys sent alongside every host notification.
const (
	DataSessionID = "session_id"
	DataOperation = "operation"
	DataChannel   = "channel"
	DataCode      = "code"
	DataBoxNumber = "box_number"
	DataCitiboxID = "citibox_id"
	DataDelivery  = "delivery_id"
)

// RenderContent builds the notification shown to the host device.
func RenderContent(outcome courier.Outcome) notification.NotificationContent {
	var title, body string
	switch o := outcome.(type) {
	case courier.DeliverySuccess:
		title = "Parcel delivered"
		body = fmt.Sprintf("Deposited in box %d of citibox %d.", o.BoxNumber, o.CitiboxID)
	case courier.DeliveryCancel:
		title = "Delivery cancelled"
		body = describe(o.Code)
	case courier.DeliveryError:
		title = "Delivery could not start"
		body = describe(o.Code)
	case courier.DeliveryFailure:
		title = "Delivery failed"
		body = describe(o.Code)
	case courier.RetrievalSuccess:
		title = "Parcel retrieved"
		body = fmt.Sprintf("Collected from box %d of citibox %d.", o.BoxNumber, o.CitiboxID)
	case courier.RetrievalCancel:
		title = "Retrieval cancelled"
		body = describe(o.Code)
	case courier.RetrievalError:
		title = "Retrieval could not start"
		body = describe(o.Code)
	case courier.RetrievalFailure:
		title = "Retrieval failed"
		body = describe(o.Code)
	default:
		title = "Courier session ended"
	}
	return notification.NotificationContent{Title: title, Body: body, Sound: "default"}
}

// RenderData builds the data payload for event.
func RenderData(event dispatch.OutcomeEvent, outcome courier.Outcome) map[string]string {
	data := map[string]string{
		DataSessionID: event.SessionID,
		DataOperation: event.Envelope.Operation,
		DataChannel:   event.Envelope.Channel,
	}
	if code, ok := courier.Code(outcome); ok {
		data[DataCode] = code
	}
	switch o := outcome.(type) {
	case courier.DeliverySuccess:
		data[DataBoxNumber] = strconv.Itoa(o.BoxNumber)
		data[DataCitiboxID] = strconv.Itoa(o.CitiboxID)
		data[DataDelivery] = o.DeliveryID
	case courier.RetrievalSuccess:
		data[DataBoxNumber] = strconv.Itoa(o.BoxNumber)
		data[DataCitiboxID] = strconv.Itoa(o.CitiboxID)
	}
	return data
}

var codeText = map[string]string{
	courier.CodeTrackingMissing:              "The tracking number is missing.",
	courier.CodeAccessTokenMissing:           "The access token is missing.",
	courier.CodeRecipientPhoneMissing:        "The recipient phone is missing.",
	courier.CodeDuplicatedTrackings:          "The tracking number is duplicated.",
	courier.CodeRecipientPhoneInvalid:        "The recipient phone is invalid.",
	courier.CodeAccessTokenInvalid:           "The access token is invalid.",
	courier.CodeAccessTokenPermissionsDenied: "The access token lacks permissions.",
	courier.CodeCitiboxIDMissing:             "The citibox id is missing.",
	courier.CodeWrongLocation:                "The courier is not at the citibox.",
	courier.CodeBoxNotAvailable:              "No box was available.",
	courier.CodeUserBlocked:                  "The recipient is blocked.",
	courier.CodeUserAutocreationForbidden:    "The recipient could not be created.",
	courier.CodeMaxReopensExceed:             "The box was reopened too many times.",
	courier.CodeParcelNotAvailable:           "The parcel is not available.",
	courier.CodeEmptyBox:                     "The box was empty.",
	courier.CodeNotStarted:                   "The operation was never started.",
	courier.CodeCantOpenBoxes:                "The boxes could not be opened.",
	courier.CodeParcelMistaken:               "The wrong parcel was selected.",
	courier.CodePackageInBox:                 "The parcel was left in the box.",
	courier.CodeNeedHandDelivery:             "The parcel needs hand delivery.",
	courier.CodeOther:                        "Cancelled by the courier.",
}

func describe(code string) string {
	if text, ok := codeText[code]; ok {
		return text
	}
	return "Reason: " + code
}
