package shopify

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
)

// ValidShopDomain accepts <name>.myshopify.com only.
func ValidShopDomain(shop string) bool {
	if !strings.HasSuffix(shop, ".myshopify.com") {
		return false
	}
	if strings.Contains(shop, "/") || strings.Contains(shop, " ") {
		return false
	}
	return len(shop) >= len("a.myshopify.com")
}

func RandomState(nBytes int) (string, error) {
	b := make([]byte, nBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// VerifyOAuthHMAC checks the hex hmac Shopify appends to the OAuth callback:
// HMAC-SHA256 over the remaining params sorted by key and joined with "&".
func VerifyOAuthHMAC(params map[string]string, secret, providedHex string) bool {
	keys := make([]string, 0, len(params))
	for k := range params {
		if k == "hmac" || k == "signature" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%s", k, params[k]))
	}

	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte(strings.Join(parts, "&")))
	expected := hex.EncodeToString(mac.Sum(nil))

	return hmac.Equal([]byte(expected), []byte(strings.ToLower(providedHex)))
}

// VerifyWebhookHMAC checks X-Shopify-Hmac-Sha256: base64 HMAC-SHA256 of the raw body.
func VerifyWebhookHMAC(body []byte, secret, providedB64 string) bool {
	if secret == "" || strings.TrimSpace(providedB64) == "" {
		return false
	}
	provided, err := base64.StdEncoding.DecodeString(strings.TrimSpace(providedB64))
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write(body)
	return hmac.Equal(mac.Sum(nil), provided)
}
