package callback

import (
	"encoding/json"
	"strings"

	"github.com/shopspring/decimal"
)

// Next UI actions the test client takes for each kind of callback.
const (
	ActionShowConfirmation   = "show_confirmation"
	ActionShowAmountInput    = "show_amount_input"
	ActionShowSuccess        = "show_success"
	ActionShowCancellation   = "show_cancellation"
	ActionShowRefundNotified = "show_refund_notification"
)

// Classify maps the gateway's type/status pair to a Kind and the next UI action.
// Unrecognised pairs yield KindUnknown and an empty action.
func Classify(gatewayType, status string) (Kind, string) {
	t := strings.ToUpper(strings.TrimSpace(gatewayType))
	s := strings.ToUpper(strings.TrimSpace(status))

	switch t {
	case "PREVIEW":
		switch s {
		case "READY_TO_CONFIRM":
			return KindPreviewReady, ActionShowConfirmation
		case "WAITING_AMOUNT":
			return KindAmountRequired, ActionShowAmountInput
		}
	case "CONFIRM":
		switch s {
		case "COMPLETED":
			return KindPaymentCompleted, ActionShowSuccess
		case "CANCELLED", "CANCELED", "REJECTED":
			return KindPaymentCancelled, ActionShowCancellation
		}
	case "REFUND":
		// REFOUNDED is what the gateway actually sends.
		switch s {
		case "REFOUNDED", "REFUNDED", "PARTIALLY_REFUNDED":
			return KindRefundIssued, ActionShowRefundNotified
		}
	}
	return KindUnknown, ""
}

// NextAction returns the UI action for a kind regardless of how it was derived.
func NextAction(k Kind) string {
	switch k {
	case KindPreviewReady:
		return ActionShowConfirmation
	case KindAmountRequired:
		return ActionShowAmountInput
	case KindPaymentCompleted:
		return ActionShowSuccess
	case KindPaymentCancelled:
		return ActionShowCancellation
	case KindRefundIssued:
		return ActionShowRefundNotified
	}
	return ""
}

type Details struct {
	Status              string              `json:"status,omitempty"`
	ExternalReferenceID string              `json:"externalReferenceId,omitempty"`
	Amount              decimal.NullDecimal `json:"amount"`
	Currency            string              `json:"currency,omitempty"`
	Partial             bool                `json:"partial,omitempty"`
	NextAction          string              `json:"nextAction,omitempty"`
}

// DetailsOf extracts the fields operators look at from a record's payload.
// Unparseable amounts are left empty rather than failing the callback.
func DetailsOf(rec Record) Details {
	var body struct {
		Status             string          `json:"status"`
		ExternalReferentID string          `json:"externalReferentId"`
		Amount             json.RawMessage `json:"amount"`
		Currency           string          `json:"currency"`
		Order              *struct {
			LocalTotalAmount json.RawMessage `json:"localTotalAmount"`
			LocalCurrency    string          `json:"localCurrency"`
		} `json:"order"`
	}
	d := Details{NextAction: NextAction(rec.Kind)}
	if err := json.Unmarshal(rec.Payload, &body); err != nil {
		return d
	}

	d.Status = body.Status
	d.ExternalReferenceID = body.ExternalReferentID
	d.Partial = strings.EqualFold(body.Status, "PARTIALLY_REFUNDED")
	d.Amount = parseAmount(body.Amount)
	d.Currency = body.Currency

	if !d.Amount.Valid && body.Order != nil {
		d.Amount = parseAmount(body.Order.LocalTotalAmount)
		if d.Currency == "" {
			d.Currency = body.Order.LocalCurrency
		}
	}
	return d
}

func parseAmount(raw json.RawMessage) decimal.NullDecimal {
	var n decimal.NullDecimal
	if len(raw) == 0 {
		return n
	}
	if err := n.UnmarshalJSON(raw); err != nil {
		return decimal.NullDecimal{}
	}
	return n
}
