package prostlog

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHTTPAPISendsAuthHeaders(t *testing.T) {
	var got http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
		json.NewEncoder(w).Encode([]Festival{})
	}))
	defer srv.Close()

	api := NewHTTPAPI(srv.URL, "secret-key", "device-1", nil)
	if _, err := api.ListFestivals(context.Background()); err != nil {
		t.Fatalf("ListFestivals: %v", err)
	}

	if got.Get("Authorization") != "Bearer secret-key" {
		t.Errorf("missing bearer auth, got %q", got.Get("Authorization"))
	}
	if got.Get("X-Source-ID") != "device-1" {
		t.Errorf("missing source id, got %q", got.Get("X-Source-ID"))
	}
	if got.Get("User-Agent") != "prostlog/"+Version {
		t.Errorf("unexpected user agent %q", got.Get("User-Agent"))
	}
}

func TestHTTPAPIForwardsIdempotencyKey(t *testing.T) {
	var gotKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("Idempotency-Key")
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	api := NewHTTPAPI(srv.URL, "", "", nil)
	err := api.CreateConsumption(context.Background(), Consumption{ID: "c-1"}, "key-123")
	if err != nil {
		t.Fatalf("CreateConsumption: %v", err)
	}
	if gotKey != "key-123" {
		t.Errorf("expected idempotency key, got %q", gotKey)
	}
}

func TestHTTPAPIMapsErrorStatus(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		transient bool
	}{
		{"server error", 500, true},
		{"unavailable", 503, true},
		{"bad request", 400, false},
		{"conflict", 409, false},
		{"unprocessable", 422, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "nope", tt.status)
			}))
			defer srv.Close()

			api := NewHTTPAPI(srv.URL, "", "", nil)
			_, err := api.ListTents(context.Background())
			if err == nil {
				t.Fatal("expected error")
			}

			var rerr *RemoteError
			if !errors.As(err, &rerr) {
				t.Fatalf("expected RemoteError, got %T", err)
			}
			if rerr.StatusCode != tt.status {
				t.Errorf("expected status %d, got %d", tt.status, rerr.StatusCode)
			}
			if rerr.Transient() != tt.transient {
				t.Errorf("status %d: expected transient=%v", tt.status, tt.transient)
			}
			if isPermanentRejection(err) == tt.transient {
				t.Errorf("status %d: permanent rejection mismatch", tt.status)
			}
		})
	}
}

func TestHTTPAPINetworkErrorIsTransient(t *testing.T) {
	// Point at a closed server.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	api := NewHTTPAPI(srv.URL, "", "", nil)
	_, err := api.ListFestivals(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}

	var rerr *RemoteError
	if !errors.As(err, &rerr) {
		t.Fatalf("expected RemoteError, got %T", err)
	}
	if !rerr.Transient() {
		t.Error("network error should be transient")
	}
}

func TestHTTPAPIUploadObjectSkipsAPIHeaders(t *testing.T) {
	var got http.Header
	var body []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
		body, _ = io.ReadAll(r.Body)
	}))
	defer srv.Close()

	api := NewHTTPAPI("https://api.example", "secret-key", "device-1", nil)
	err := api.UploadObject(context.Background(), srv.URL, "image/jpeg", []byte("jpeg-bytes"))
	if err != nil {
		t.Fatalf("UploadObject: %v", err)
	}

	// The signed URL is self-authorizing; leaking the API key would be a bug.
	if got.Get("Authorization") != "" {
		t.Error("signed upload must not carry the API key")
	}
	if got.Get("Content-Type") != "image/jpeg" {
		t.Errorf("expected image/jpeg, got %q", got.Get("Content-Type"))
	}
	if string(body) != "jpeg-bytes" {
		t.Errorf("body mismatch: %q", body)
	}
}

func TestHTTPAPIDecodesResponses(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/profiles/user-1":
			json.NewEncoder(w).Encode(Profile{ID: "user-1", Username: "maria"})
		case "/uploads":
			json.NewEncoder(w).Encode(UploadTicket{UploadURL: "https://s.example/put", ObjectKey: "k1"})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	api := NewHTTPAPI(srv.URL, "", "", nil)

	p, err := api.GetProfile(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("GetProfile: %v", err)
	}
	if p.Username != "maria" {
		t.Errorf("expected maria, got %q", p.Username)
	}

	ticket, err := api.CreateUploadURL(context.Background(), "pic-1", "image/jpeg")
	if err != nil {
		t.Fatalf("CreateUploadURL: %v", err)
	}
	if ticket.ObjectKey != "k1" {
		t.Errorf("expected object key k1, got %q", ticket.ObjectKey)
	}
}
