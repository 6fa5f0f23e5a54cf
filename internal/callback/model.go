package callback

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"
)

type Kind string

const (
	KindPreviewReady     Kind = "preview-ready"
	KindAmountRequired   Kind = "amount-required"
	KindPaymentCompleted Kind = "payment-completed"
	KindPaymentCancelled Kind = "payment-cancelled"
	KindRefundIssued     Kind = "refund-issued"
	KindUnknown          Kind = "unknown"
)

func (k Kind) Valid() bool {
	switch k {
	case KindPreviewReady, KindAmountRequired, KindPaymentCompleted, KindPaymentCancelled, KindRefundIssued, KindUnknown:
		return true
	}
	return false
}

// Record is one received webhook. Payload is the raw request body and is never
// modified after ingestion.
type Record struct {
	TransactionCode string          `json:"transactionCode" validate:"required,max=128"`
	Kind            Kind            `json:"kind" validate:"omitempty,kind"`
	ClientID        string          `json:"clientId,omitempty" validate:"max=128"`
	Payload         json.RawMessage `json:"payload"`
	ReceivedAt      time.Time       `json:"receivedAt"`
	Consumed        bool            `json:"consumed"`
}

func (r Record) Validate() error {
	if strings.TrimSpace(r.TransactionCode) == "" {
		return &InvalidRecordError{Field: "transactionCode", Reason: "is required"}
	}
	if err := validate.Struct(r); err != nil {
		return invalidFrom(err)
	}
	return nil
}

// inbound is the subset of the gateway body the relay looks at.
type inbound struct {
	TransactionCode string `json:"transactionCode"`
	TxCode          string `json:"txCode"`
	Kind            string `json:"kind"`
	Type            string `json:"type"`
	Status          string `json:"status"`
	ClientID        string `json:"clientId"`
}

// Parse builds a Record from a callback body. The body must be a JSON object; it
// is kept verbatim as the payload. headerClientID is used when the body does not
// declare one.
func Parse(body []byte, headerClientID string) (Record, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 || body[0] != '{' {
		return Record{}, &InvalidRecordError{Field: "body", Reason: "must be a JSON object"}
	}

	var in inbound
	if err := json.Unmarshal(body, &in); err != nil {
		return Record{}, &InvalidRecordError{Field: "body", Reason: "invalid json"}
	}

	code := strings.TrimSpace(in.TransactionCode)
	if code == "" {
		code = strings.TrimSpace(in.TxCode)
	}

	kind := Kind(strings.TrimSpace(in.Kind))
	if kind == "" || !kind.Valid() {
		kind, _ = Classify(in.Type, in.Status)
	}

	clientID := strings.TrimSpace(in.ClientID)
	if clientID == "" {
		clientID = strings.TrimSpace(headerClientID)
	}

	rec := Record{
		TransactionCode: code,
		Kind:            kind,
		ClientID:        clientID,
		Payload:         json.RawMessage(body),
	}
	if err := rec.Validate(); err != nil {
		return Record{}, err
	}
	return rec, nil
}
