package callback_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/k1networth/cb-testclient/internal/callback"
)

func TestClassify(t *testing.T) {
	testCases := []struct {
		name       string
		typ        string
		status     string
		wantKind   callback.Kind
		wantAction string
	}{
		{"preview_ready", "PREVIEW", "READY_TO_CONFIRM", callback.KindPreviewReady, callback.ActionShowConfirmation},
		{"preview_waiting_amount", "PREVIEW", "WAITING_AMOUNT", callback.KindAmountRequired, callback.ActionShowAmountInput},
		{"confirm_completed", "CONFIRM", "COMPLETED", callback.KindPaymentCompleted, callback.ActionShowSuccess},
		{"confirm_cancelled", "confirm", "cancelled", callback.KindPaymentCancelled, callback.ActionShowCancellation},
		{"refund_gateway_spelling", "REFUND", "REFOUNDED", callback.KindRefundIssued, callback.ActionShowRefundNotified},
		{"refund_partial", "REFUND", "PARTIALLY_REFUNDED", callback.KindRefundIssued, callback.ActionShowRefundNotified},
		{"preview_other_status", "PREVIEW", "EXPIRED", callback.KindUnknown, ""},
		{"unknown_type", "CHARGEBACK", "OPEN", callback.KindUnknown, ""},
		{"empty", "", "", callback.KindUnknown, ""},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			kind, action := callback.Classify(tc.typ, tc.status)
			assert.Equal(t, tc.wantKind, kind)
			assert.Equal(t, tc.wantAction, action)
		})
	}
}

func TestParseAcceptsGatewayTxCode(t *testing.T) {
	body := []byte(`{"type":"PREVIEW","txCode":"TX1","externalReferentId":"ext-1","status":"READY_TO_CONFIRM"}`)

	rec, err := callback.Parse(body, "")
	require.NoError(t, err)
	assert.Equal(t, "TX1", rec.TransactionCode)
	assert.Equal(t, callback.KindPreviewReady, rec.Kind)
	assert.JSONEq(t, string(body), string(rec.Payload))
}

func TestParseExplicitKindWins(t *testing.T) {
	body := []byte(`{"transactionCode":"TX9","kind":"refund-issued","type":"PREVIEW","status":"READY_TO_CONFIRM","clientId":"web-1"}`)

	rec, err := callback.Parse(body, "header-client")
	require.NoError(t, err)
	assert.Equal(t, callback.KindRefundIssued, rec.Kind)
	assert.Equal(t, "web-1", rec.ClientID)
}

func TestParseUsesHeaderClientID(t *testing.T) {
	rec, err := callback.Parse([]byte(`{"transactionCode":"TX2"}`), " tab-7 ")
	require.NoError(t, err)
	assert.Equal(t, "tab-7", rec.ClientID)
	assert.Equal(t, callback.KindUnknown, rec.Kind)
}

func TestParseRejectsMalformed(t *testing.T) {
	testCases := []struct {
		name string
		body string
	}{
		{"missing_code", `{"type":"PREVIEW","status":"READY_TO_CONFIRM"}`},
		{"blank_code", `{"transactionCode":"   "}`},
		{"not_an_object", `["TX1"]`},
		{"broken_json", `{"transactionCode":`},
		{"empty", ``},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := callback.Parse([]byte(tc.body), "")
			require.Error(t, err)
			assert.True(t, callback.IsInvalid(err), "expected InvalidRecordError, got %v", err)
		})
	}
}

func TestDetailsOf(t *testing.T) {
	rec, err := callback.Parse([]byte(`{
		"type":"REFUND","txCode":"TX3","externalReferentId":"ext-3","status":"PARTIALLY_REFUNDED",
		"amount":"12.50","currency":"BOB"
	}`), "")
	require.NoError(t, err)

	d := callback.DetailsOf(rec)
	require.True(t, d.Amount.Valid)
	assert.Equal(t, "12.5", d.Amount.Decimal.String())
	assert.Equal(t, "BOB", d.Currency)
	assert.True(t, d.Partial)
	assert.Equal(t, "ext-3", d.ExternalReferenceID)
	assert.Equal(t, callback.ActionShowRefundNotified, d.NextAction)
}

func TestDetailsOfFallsBackToOrderTotal(t *testing.T) {
	rec, err := callback.Parse([]byte(`{
		"type":"PREVIEW","txCode":"TX4","status":"READY_TO_CONFIRM",
		"order":{"localTotalAmount":150.75,"localCurrency":"BOB","userTotalAmount":21.6,"userCurrency":"USD"}
	}`), "")
	require.NoError(t, err)

	d := callback.DetailsOf(rec)
	require.True(t, d.Amount.Valid)
	assert.Equal(t, "150.75", d.Amount.Decimal.String())
	assert.Equal(t, "BOB", d.Currency)
	assert.False(t, d.Partial)
}

func TestRecordValidate(t *testing.T) {
	testCases := []struct {
		name      string
		rec       callback.Record
		wantField string
		wantErr   string
	}{
		{"ok", callback.Record{TransactionCode: "TX1", Kind: callback.KindUnknown}, "", ""},
		{"blank_code", callback.Record{TransactionCode: "   "}, "transactionCode", "is required"},
		{"long_code", callback.Record{TransactionCode: strings.Repeat("x", 129)}, "transactionCode", "must be at most 128 characters"},
		{"bad_kind", callback.Record{TransactionCode: "TX1", Kind: "paid"}, "kind", "is not a known kind"},
		{"long_client", callback.Record{TransactionCode: "TX1", ClientID: strings.Repeat("c", 200)}, "clientId", "must be at most 128 characters"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.rec.Validate()
			if tc.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			var ie *callback.InvalidRecordError
			require.True(t, errors.As(err, &ie), "got %v", err)
			assert.Equal(t, tc.wantField, ie.Field)
			assert.Equal(t, tc.wantErr, ie.Reason)
		})
	}
}
