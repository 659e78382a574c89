package razorpay

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// SignatureHeader carries the hex HMAC-SHA256 of the raw webhook body.
const SignatureHeader = "X-Razorpay-Signature"

// ComputeSignature returns the hex HMAC-SHA256 of payload under secret.
func ComputeSignature(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyWebhookSignature checks the signature header against the exact raw
// request bytes. Empty or malformed input is reported as invalid.
func VerifyWebhookSignature(payload []byte, signatureHeader, webhookSecret string) bool {
	sig := strings.TrimSpace(signatureHeader)
	if sig == "" || webhookSecret == "" || len(payload) == 0 {
		return false
	}
	return verifyHex(payload, sig, webhookSecret)
}

// VerifyPaymentSignature checks the checkout callback signature, which is the
// HMAC of "<order_id>|<payment_id>" under the API key secret.
func VerifyPaymentSignature(orderID, paymentID, signature, keySecret string) bool {
	if orderID == "" || paymentID == "" || keySecret == "" || strings.TrimSpace(signature) == "" {
		return false
	}
	return verifyHex([]byte(orderID+"|"+paymentID), strings.TrimSpace(signature), keySecret)
}

func verifyHex(message []byte, sig, secret string) bool {
	expected, err := hex.DecodeString(strings.ToLower(sig))
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(message)
	return hmac.Equal(mac.Sum(nil), expected)
}
