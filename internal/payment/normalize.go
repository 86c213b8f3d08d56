package payment

import (
	"encoding/json"
	"strconv"
	"strings"
)

// Outcome is the gateway-independent reading of a status code.
type Outcome int

const (
	OutcomePending Outcome = iota
	OutcomeSucceeded
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSucceeded:
		return "succeeded"
	case OutcomeFailed:
		return "failed"
	}
	return "pending"
}

var outcomes = map[string]Outcome{
	// success
	"00":         OutcomeSucceeded,
	"PAID":       OutcomeSucceeded,
	"COMPLETED":  OutcomeSucceeded,
	"SUCCESS":    OutcomeSucceeded,
	"SUCCEEDED":  OutcomeSucceeded,
	"SUCCESSFUL": OutcomeSucceeded,
	"CAPTURED":   OutcomeSucceeded,

	// definitive failure
	"CANCELLED": OutcomeFailed,
	"CANCELED":  OutcomeFailed,
	"FAILED":    OutcomeFailed,
	"FAILURE":   OutcomeFailed,
	"EXPIRED":   OutcomeFailed,
	"REVERSED":  OutcomeFailed,
	"REJECTED":  OutcomeFailed,
}

// Classify maps a provider status code to an Outcome. Unknown codes are pending.
func Classify(code string) Outcome {
	return outcomes[strings.ToUpper(strings.TrimSpace(code))]
}

// Succeeded reports whether the code means the payment went through.
func Succeeded(code string) bool {
	return Classify(code) == OutcomeSucceeded
}

// Signal is a webhook reduced to the two fields reconciliation needs.
type Signal struct {
	OrderCode int64
	Code      string
}

// code accepts a JSON number or string.
type code string

func (c *code) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*c = code(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*c = code(n.String())
	return nil
}

// webhookBody covers the vocabularies we accept: a flat {orderCode, statusCode} body,
// the {code, data: {orderCode, code}} envelope and Omise charge events.
type webhookBody struct {
	OrderCode  code `json:"orderCode"`
	OrderCode2 code `json:"order_code"`
	StatusCode code `json:"statusCode"`
	Status     code `json:"status"`
	Code       code `json:"code"`
	Data       *struct {
		OrderCode code `json:"orderCode"`
		Code      code `json:"code"`
		Status    code `json:"status"`
		Metadata  struct {
			OrderCode code `json:"order_code"`
		} `json:"metadata"`
	} `json:"data"`
}

// ParseWebhook extracts the order code and status code from a gateway payload.
func ParseWebhook(body []byte) (Signal, error) {
	var w webhookBody
	if err := json.Unmarshal(body, &w); err != nil {
		return Signal{}, ErrMalformedPayload.WithDetail(err.Error())
	}

	rawCode := first(w.OrderCode, w.OrderCode2)
	status := first(w.StatusCode, w.Status, w.Code)
	if w.Data != nil {
		// Envelope fields describe the request, data describes the payment.
		rawCode = first(w.Data.OrderCode, w.Data.Metadata.OrderCode, rawCode)
		status = first(w.Data.Code, w.Data.Status, status)
	}

	orderCode, err := strconv.ParseInt(string(rawCode), 10, 64)
	if err != nil || orderCode <= 0 {
		return Signal{}, ErrMalformedPayload.WithDetail("missing order code")
	}
	if status == "" {
		return Signal{}, ErrMalformedPayload.WithDetail("missing status code")
	}
	return Signal{OrderCode: orderCode, Code: string(status)}, nil
}

func first(values ...code) code {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
