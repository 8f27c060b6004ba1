package payos

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Webhook is the provider's payment-confirmation callback envelope. Data is
// kept raw until the signature over it has been verified.
type Webhook struct {
	Code      string          `json:"code"`
	Desc      string          `json:"desc"`
	Success   bool            `json:"success"`
	Data      json.RawMessage `json:"data"`
	Signature string          `json:"signature"`
}

// WebhookData is the payment detail the provider signs and delivers.
type WebhookData struct {
	OrderCode            int64  `json:"orderCode"`
	Amount               int64  `json:"amount"`
	Description          string `json:"description"`
	Reference            string `json:"reference"`
	TransactionDateTime  string `json:"transactionDateTime"`
	PaymentLinkID        string `json:"paymentLinkId"`
	CounterAccountBankID string `json:"counterAccountBankId"`
	CounterAccountNumber string `json:"counterAccountNumber"`
	CounterAccountName   string `json:"counterAccountName"`
}

// VerifyWebhook checks the HMAC signature over the webhook's data object and
// returns the decoded payload. The signature covers the data fields
// canonicalized as sorted key=value pairs, matching the payout signing
// scheme.
func VerifyWebhook(checksumKey string, hook Webhook) (*WebhookData, error) {
	var fields map[string]any
	if err := json.Unmarshal(hook.Data, &fields); err != nil {
		return nil, fmt.Errorf("decode webhook data: %w", err)
	}

	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, len(keys))
	for i, k := range keys {
		pairs[i] = k + "=" + stringifyField(fields[k])
	}

	mac := hmac.New(sha256.New, []byte(checksumKey))
	mac.Write([]byte(strings.Join(pairs, "&")))
	expected := hex.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(expected), []byte(hook.Signature)) {
		return nil, fmt.Errorf("webhook signature mismatch")
	}

	var data WebhookData
	if err := json.Unmarshal(hook.Data, &data); err != nil {
		return nil, fmt.Errorf("decode webhook data: %w", err)
	}
	return &data, nil
}

func stringifyField(v any) string {
	switch value := v.(type) {
	case nil:
		return ""
	case string:
		return value
	case json.Number:
		return value.String()
	case float64:
		return strconv.FormatFloat(value, 'f', -1, 64)
	case bool:
		if value {
			return "true"
		}
		return "false"
	default:
		encoded, _ := json.Marshal(value)
		return string(encoded)
	}
}
