package main

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"strings"
)

// verifyBase64HMAC checks a storefront-style signature: base64 of the
// HMAC-SHA256 of the raw body.
func verifyBase64HMAC(secret string, body []byte, signature string) bool {
	if secret == "" || signature == "" {
		return false
	}
	got, err := base64.StdEncoding.DecodeString(strings.TrimSpace(signature))
	if err != nil {
		return false
	}
	return hmac.Equal(got, sign(secret, body))
}

// verifyHexHMAC checks a provider-style signature: hex HMAC-SHA256, with an
// optional "sha256=" prefix.
func verifyHexHMAC(secret string, body []byte, signature string) bool {
	if secret == "" || signature == "" {
		return false
	}
	got, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(signature), "sha256="))
	if err != nil {
		return false
	}
	return hmac.Equal(got, sign(secret, body))
}

func sign(secret string, body []byte) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return mac.Sum(nil)
}

// storefrontOrder is the subset of the storefront's order webhook we read.
type storefrontOrder struct {
	ID        json.Number `json:"id"`
	Email     string      `json:"email"`
	LineItems []struct {
		ID         json.Number `json:"id"`
		VariantID  json.Number `json:"variant_id"`
		Quantity   int         `json:"quantity"`
		Properties []struct {
			Name  string `json:"name"`
			Value string `json:"value"`
		} `json:"properties"`
	} `json:"line_items"`
}

// providerEvent is a status callback from the print provider.
type providerEvent struct {
	OrderID        string `json:"order_id"`
	Status         string `json:"status"`
	TrackingNumber string `json:"tracking_number"`
}
