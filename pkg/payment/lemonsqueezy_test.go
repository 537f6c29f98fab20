package payment

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signHex(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

func TestVerifySignature(t *testing.T) {
	g := NewLemonSqueezy("", "76046", "topsecret")
	body := []byte(`{"meta":{"event_name":"order_created"}}`)

	t.Run("valid signature", func(t *testing.T) {
		assert.True(t, g.VerifySignature(body, signHex("topsecret", body)))
	})

	t.Run("valid with sha256 prefix", func(t *testing.T) {
		assert.True(t, g.VerifySignature(body, "sha256="+signHex("topsecret", body)))
	})

	t.Run("uppercase hex accepted", func(t *testing.T) {
		assert.True(t, g.VerifySignature(body, upperHex(signHex("topsecret", body))))
	})

	t.Run("one byte flipped in body", func(t *testing.T) {
		sig := signHex("topsecret", body)
		tampered := append([]byte{}, body...)
		tampered[0] ^= 0x01
		assert.False(t, g.VerifySignature(tampered, sig))
	})

	t.Run("wrong secret", func(t *testing.T) {
		assert.False(t, g.VerifySignature(body, signHex("othersecret", body)))
	})

	t.Run("garbage hex", func(t *testing.T) {
		assert.False(t, g.VerifySignature(body, "not-hex-at-all"))
	})

	t.Run("empty header", func(t *testing.T) {
		assert.False(t, g.VerifySignature(body, ""))
	})

	t.Run("empty secret never verifies", func(t *testing.T) {
		unset := NewLemonSqueezy("", "76046", "")
		assert.False(t, unset.VerifySignature(body, signHex("", body)))
	})
}

func upperHex(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'a' && c <= 'f' {
			b[i] = c - 'a' + 'A'
		}
	}
	return string(b)
}

func TestCreateCheckout(t *testing.T) {
	var captured map[string]any

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/v1/checkouts", r.URL.Path)
		require.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))

		w.Header().Set("Content-Type", "application/vnd.api+json")
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"data":{"id":"chk_1","attributes":{"url":"https://store.lemonsqueezy.com/checkout/buy/abc"}}}`))
	}))
	defer srv.Close()

	g := NewLemonSqueezy("test-key", "76046", "topsecret").WithAPIBase(srv.URL)

	out, err := g.CreateCheckout(context.Background(), "user-42", "999967")
	require.NoError(t, err)
	assert.Equal(t, "https://store.lemonsqueezy.com/checkout/buy/abc", out.URL)
	assert.NotEmpty(t, out.OrderRef)

	data := captured["data"].(map[string]any)
	attrs := data["attributes"].(map[string]any)
	custom := attrs["checkout_data"].(map[string]any)["custom"].(map[string]any)
	assert.Equal(t, "user-42", custom["user_id"])
	assert.Equal(t, out.OrderRef, custom["order_ref"])

	rels := data["relationships"].(map[string]any)
	store := rels["store"].(map[string]any)["data"].(map[string]any)
	variant := rels["variant"].(map[string]any)["data"].(map[string]any)
	assert.Equal(t, "76046", store["id"])
	assert.Equal(t, "999967", variant["id"])
}

func TestCreateCheckoutAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	g := NewLemonSqueezy("bad-key", "76046", "topsecret").WithAPIBase(srv.URL)

	_, err := g.CreateCheckout(context.Background(), "user-42", "999967")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 401")
}
