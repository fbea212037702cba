package paypal

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestVerifyIPN_Verified(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Fatalf("method = %s, want POST", r.Method)
		}

		body, _ := io.ReadAll(r.Body)
		if !strings.HasPrefix(string(body), "cmd=_notify-validate&") {
			t.Fatalf("body must start with validation command, got %q", body)
		}

		_, _ = w.Write([]byte("VERIFIED"))
	}))
	defer ts.Close()

	client := NewClient(ts.URL)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	ok, err := client.VerifyIPN(ctx, []byte("txn_id=ABC123&mc_gross=25.00"))
	if err != nil {
		t.Fatalf("VerifyIPN error: %v", err)
	}
	if !ok {
		t.Fatalf("expected verified notification")
	}
}

func TestVerifyIPN_Invalid(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("INVALID"))
	}))
	defer ts.Close()

	client := NewClient(ts.URL)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	ok, err := client.VerifyIPN(ctx, []byte("txn_id=forged"))
	if err != nil {
		t.Fatalf("VerifyIPN error: %v", err)
	}
	if ok {
		t.Fatalf("expected invalid notification")
	}
}

func TestVerifyIPN_NotConfigured(t *testing.T) {
	client := NewClient("")

	_, err := client.VerifyIPN(context.Background(), []byte("x"))
	if err == nil {
		t.Fatalf("expected error for unconfigured client")
	}
}
