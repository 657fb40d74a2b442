package generate

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
)

func TestClientSubmit(t *testing.T) {
	var got Submission
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/sites" || r.Method != http.MethodPost {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer test-key" {
			t.Errorf("auth header = %q", r.Header.Get("Authorization"))
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Fatal(err)
		}
		w.Write([]byte(`{"token": "acc_123"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "test-key", 0)
	id := uuid.New()
	token, err := c.Submit(context.Background(), Submission{
		BusinessID: id, Name: "Jones Bakery", Category: "bakery", City: "Portland",
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if token != "acc_123" {
		t.Errorf("token = %q", token)
	}
	if got.BusinessID != id || got.Name != "Jones Bakery" {
		t.Errorf("submission = %+v", got)
	}
}

func TestClientSubmitErrorClassification(t *testing.T) {
	cases := []struct {
		status    int
		transient bool
	}{
		{http.StatusTooManyRequests, true},
		{http.StatusBadGateway, true},
		{http.StatusServiceUnavailable, true},
		{http.StatusBadRequest, false},
		{http.StatusUnauthorized, false},
	}
	for _, tc := range cases {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
		}))
		c := NewClient(srv.URL, "", 0)
		_, err := c.Submit(context.Background(), Submission{BusinessID: uuid.New()})
		srv.Close()
		if err == nil {
			t.Fatalf("status %d: expected error", tc.status)
		}
		var te *TransientError
		if got := errors.As(err, &te); got != tc.transient {
			t.Errorf("status %d: transient = %v, want %v", tc.status, got, tc.transient)
		}
	}
}

func TestClientSubmitEmptyToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", 0)
	if _, err := c.Submit(context.Background(), Submission{BusinessID: uuid.New()}); err == nil {
		t.Fatal("empty token accepted")
	}
}

func TestSignAndVerify(t *testing.T) {
	body := []byte(`{"business_id": "abc", "status": "completed"}`)
	sig := Sign("shared-secret", body)

	if !VerifySignature("shared-secret", body, sig) {
		t.Error("valid signature rejected")
	}
	if !VerifySignature("shared-secret", body, "  "+sig+"") {
		t.Error("whitespace-padded signature rejected")
	}
	if VerifySignature("shared-secret", body, Sign("other-secret", body)) {
		t.Error("wrong-secret signature accepted")
	}
	if VerifySignature("shared-secret", []byte(`tampered`), sig) {
		t.Error("tampered body accepted")
	}
	if VerifySignature("", body, sig) {
		t.Error("empty secret must never verify")
	}
	if VerifySignature("shared-secret", body, "") {
		t.Error("empty signature must never verify")
	}
}
