package payments

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// Gateway verifies payment-gateway callbacks. Order creation and checkout
// happen on the gateway's side; our only obligation is authenticating the
// completion callback before crediting the purchase.
type Gateway interface {
	VerifySignature(orderID, paymentID, signature string) bool
}

/// HMACGateway implements the razorpay-style scheme: the signature is
// HMAC-SHA256 over "orderID|paymentID" keyed with the gateway secret.
type HMACGateway struct {
	secret []byte
}

func NewHMACGateway(secret string) *HMACGateway {
	return &HMACGateway{secret: []byte(secret)}
}

func (g *HMACGateway) VerifySignature(orderID, paymentID, signature string) bool {
	mac := hmac.New(sha256.New, g.secret)
	mac.Write([]byte(orderID + "|" + paymentID))
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}
