package razorpay

import (
	"encoding/json"
	"strings"
)

// MapEventToLogStatus maps a webhook event name to a payment log status.
func MapEventToLogStatus(t EventType) string {
	switch t {
	case EventPaymentAuthorized:
		return "authorized"
	case EventPaymentCaptured:
		return "captured"
	case EventPaymentFailed:
		return "failed"
	case EventOrderPaid:
		return "paid"
	case EventRefundCreated, EventRefundProcessed:
		return "refunded"
	default:
		return "pending"
	}
}

var sanitizeFailed = []byte(`{"error":"Failed to sanitize webhook data"}`)

// SanitizeForLogging masks card, bank and VPA details of the payment entity
// in a raw webhook body so it can be stored.
func SanitizeForLogging(raw []byte) []byte {
	var body map[string]interface{}
	if err := json.Unmarshal(raw, &body); err != nil {
		return sanitizeFailed
	}

	if payment := paymentEntityOf(body); payment != nil {
		if card, ok := payment["card"].(map[string]interface{}); ok {
			payment["card"] = map[string]interface{}{
				"last4":   card["last4"],
				"network": card["network"],
				"type":    card["type"],
			}
		}
		if bank, ok := payment["bank"].(string); ok && bank != "" {
			payment["bank"] = MaskBank(bank)
		}
		if vpa, ok := payment["vpa"].(string); ok && vpa != "" {
			payment["vpa"] = MaskVPA(vpa)
		}
	}

	out, err := json.Marshal(body)
	if err != nil {
		return sanitizeFailed
	}
	return out
}

func paymentEntityOf(body map[string]interface{}) map[string]interface{} {
	payload, _ := body["payload"].(map[string]interface{})
	payment, _ := payload["payment"].(map[string]interface{})
	entity, _ := payment["entity"].(map[string]interface{})
	return entity
}

// MaskBank keeps the first four characters of a bank code.
func MaskBank(bank string) string {
	return prefix(bank, 4) + "****"
}

// MaskVPA keeps the first two characters of the handle and the domain.
func MaskVPA(vpa string) string {
	user, domain, found := strings.Cut(vpa, "@")
	if !found {
		return prefix(user, 2) + "****"
	}
	return prefix(user, 2) + "****@" + domain
}

func prefix(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
