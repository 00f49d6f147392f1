package stripe

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/vibecodingbible/billingsync/pkg/billing"
	"github.com/vibecodingbible/billingsync/pkg/entitlement"
	"github.com/vibecodingbible/billingsync/storage/memory"
)

// signPayload computes a Stripe-Signature header the same way the CLI and
// the hosted webhook sender do: HMAC-SHA256 over "<timestamp>.<payload>".
func signPayload(payload []byte, secret string, ts time.Time) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.%s", ts.Unix(), payload)
	return fmt.Sprintf("t=%d,v1=%s", ts.Unix(), hex.EncodeToString(mac.Sum(nil)))
}

func eventBody(t *testing.T, id, eventType string, created time.Time, object map[string]any) []byte {
	t.Helper()
	body, err := json.Marshal(map[string]any{
		"id":      id,
		"object":  "event",
		"type":    eventType,
		"created": created.Unix(),
		"data":    map[string]any{"object": object},
	})
	if err != nil {
		t.Fatalf("Failed to marshal event body: %v", err)
	}
	return body
}

func postWebhook(t *testing.T, handler http.Handler, body []byte, signature string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", bytes.NewReader(body))
	if signature != "" {
		req.Header.Set("Stripe-Signature", signature)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestWebhook_MissingSecretFailsClosed(t *testing.T) {
	store := memory.New()
	provider, err := NewProvider(Config{
		Config: billing.Config{
			Store:      store,
			PriceTable: map[string]entitlement.Tier{testPricePro: entitlement.TierPro},
		},
		StripeAPIKey: testAPIKey,
		// No webhook secret on purpose
	})
	if err != nil {
		t.Fatalf("Failed to create provider: %v", err)
	}

	body := eventBody(t, "evt_1", "checkout.session.completed", time.Now(), map[string]any{
		"id":       "cs_1",
		"metadata": map[string]string{"user_id": testUserID, "price_id": testPricePro},
	})
	rec := postWebhook(t, provider.WebhookHandler(), body, signPayload(body, "whsec_whatever", time.Now()))

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("Status = %d, want 500 when secret is missing", rec.Code)
	}
	if _, err := store.GetProfile(context.Background(), testUserID); err == nil {
		t.Error("Profile written despite missing secret")
	}
}

func TestWebhook_InvalidSignatureRejected(t *testing.T) {
	store := memory.New()
	provider := newTestProvider(t, store)

	body := eventBody(t, "evt_2", "checkout.session.completed", time.Now(), map[string]any{
		"id":           "cs_1",
		"amount_total": 4900,
		"metadata":     map[string]string{"user_id": testUserID, "price_id": testPricePro},
	})
	// Signed with the wrong secret
	rec := postWebhook(t, provider.WebhookHandler(), body, signPayload(body, "whsec_wrong", time.Now()))

	if rec.Code != http.StatusBadRequest {
		t.Errorf("Status = %d, want 400 for bad signature", rec.Code)
	}
	if _, err := store.GetProfile(context.Background(), testUserID); err == nil {
		t.Error("Profile written despite invalid signature")
	}
}

func TestWebhook_TamperedBodyRejected(t *testing.T) {
	store := memory.New()
	provider := newTestProvider(t, store)

	body := eventBody(t, "evt_3", "checkout.session.completed", time.Now(), map[string]any{
		"id":           "cs_1",
		"amount_total": 4900,
		"metadata":     map[string]string{"user_id": testUserID, "price_id": testPricePro},
	})
	signature := signPayload(body, testWebhookSecret, time.Now())
	tampered := bytes.Replace(body, []byte("4900"), []byte("1"), 1)

	rec := postWebhook(t, provider.WebhookHandler(), tampered, signature)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Status = %d, want 400 for tampered body", rec.Code)
	}
}

func TestWebhook_ValidCheckoutProcessed(t *testing.T) {
	store := memory.New()
	provider := newTestProvider(t, store)
	ctx := context.Background()

	now := time.Now()
	body := eventBody(t, "evt_4", "checkout.session.completed", now, map[string]any{
		"id":           "cs_1",
		"mode":         "subscription",
		"amount_total": 4900,
		"currency":     "eur",
		"metadata":     map[string]string{"user_id": testUserID, "price_id": testPricePro},
	})

	rec := postWebhook(t, provider.WebhookHandler(), body, signPayload(body, testWebhookSecret, now))
	if rec.Code != http.StatusOK {
		t.Fatalf("Status = %d, want 200; body: %s", rec.Code, rec.Body.String())
	}

	var ack webhookAck
	if err := json.Unmarshal(rec.Body.Bytes(), &ack); err != nil {
		t.Fatalf("Failed to parse ack: %v", err)
	}
	if !ack.Received {
		t.Error("Ack received = false, want true")
	}

	profile, err := store.GetProfile(ctx, testUserID)
	if err != nil {
		t.Fatalf("Profile not written: %v", err)
	}
	if profile.Tier != entitlement.TierPro {
		t.Errorf("Tier = %s, want pro", profile.Tier)
	}
	if got := len(store.Payments(testUserID)); got != 1 {
		t.Errorf("Payments = %d, want 1", got)
	}
}

func TestWebhook_UnhandledEventAcknowledged(t *testing.T) {
	store := memory.New()
	provider := newTestProvider(t, store)

	now := time.Now()
	body := eventBody(t, "evt_5", "customer.updated", now, map[string]any{
		"id": testCustomerID,
	})

	rec := postWebhook(t, provider.WebhookHandler(), body, signPayload(body, testWebhookSecret, now))
	if rec.Code != http.StatusOK {
		t.Errorf("Status = %d, want 200 for unhandled type", rec.Code)
	}
	if _, err := store.GetProfile(context.Background(), testUserID); err == nil {
		t.Error("Unhandled event wrote state")
	}
}

func TestWebhook_MethodNotAllowed(t *testing.T) {
	provider := newTestProvider(t, memory.New())

	req := httptest.NewRequest(http.MethodGet, "/webhooks/stripe", nil)
	rec := httptest.NewRecorder()
	provider.WebhookHandler().ServeHTTP(rec, req)

	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("Status = %d, want 405", rec.Code)
	}
}

func TestWebhook_HandlerErrorReturns500(t *testing.T) {
	store := memory.New()
	provider := newTestProvider(t, store)

	// Checkout without a user id makes the handler fail; Stripe will retry
	now := time.Now()
	body := eventBody(t, "evt_6", "checkout.session.completed", now, map[string]any{
		"id":           "cs_1",
		"amount_total": 4900,
	})

	rec := postWebhook(t, provider.WebhookHandler(), body, signPayload(body, testWebhookSecret, now))
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("Status = %d, want 500 on handler failure", rec.Code)
	}
}
