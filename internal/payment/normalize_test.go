package payment

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		code string
		want Outcome
	}{
		{"00", OutcomeSucceeded},
		{"PAID", OutcomeSucceeded},
		{"paid", OutcomeSucceeded},
		{"COMPLETED", OutcomeSucceeded},
		{"SUCCESS", OutcomeSucceeded},
		{" successful ", OutcomeSucceeded},
		{"CANCELLED", OutcomeFailed},
		{"failed", OutcomeFailed},
		{"expired", OutcomeFailed},
		{"PENDING", OutcomePending},
		{"PROCESSING", OutcomePending},
		{"01", OutcomePending},
		{"", OutcomePending},
	}
	for _, tc := range cases {
		t.Run(tc.code, func(t *testing.T) {
			assert.Equal(t, tc.want, Classify(tc.code))
			assert.Equal(t, tc.want == OutcomeSucceeded, Succeeded(tc.code))
		})
	}
}

func TestParseWebhook(t *testing.T) {
	cases := []struct {
		name string
		body string
		want Signal
	}{
		{"flat", `{"orderCode": 1740000000001, "statusCode": "PAID"}`, Signal{1740000000001, "PAID"}},
		{"flat string code", `{"orderCode": "42", "status": "COMPLETED"}`, Signal{42, "COMPLETED"}},
		{"envelope", `{"code": "00", "desc": "success", "data": {"orderCode": 42, "code": "00"}}`, Signal{42, "00"}},
		{"envelope data wins", `{"code": "00", "data": {"orderCode": 42, "code": "01"}}`, Signal{42, "01"}},
		{"omise charge", `{"key": "charge.complete", "data": {"status": "successful", "metadata": {"order_code": "42"}}}`, Signal{42, "successful"}},
		{"numeric status", `{"orderCode": 42, "statusCode": 0}`, Signal{42, "0"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ParseWebhook([]byte(tc.body))
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestParseWebhookMalformed(t *testing.T) {
	for _, body := range []string{
		`not json`,
		`{"statusCode": "PAID"}`,
		`{"orderCode": -1, "statusCode": "PAID"}`,
		`{"orderCode": 42}`,
	} {
		_, err := ParseWebhook([]byte(body))
		assert.ErrorIs(t, err, ErrMalformedPayload, body)
	}
}
