package signalservice

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestTransportPutJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut {
			t.Errorf("method: got %s, want PUT", r.Method)
		}
		if r.URL.Path != "/v1/accounts/attributes/" {
			t.Errorf("path: got %s", r.URL.Path)
		}
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("content-type: got %s", r.Header.Get("Content-Type"))
		}
		user, pass, ok := r.BasicAuth()
		if !ok || user == "" || pass == "" {
			t.Error("missing or empty basic auth")
		}

		body, err := io.ReadAll(r.Body)
		if err != nil {
			t.Fatalf("read body: %v", err)
		}
		var got map[string]any
		if err := json.Unmarshal(body, &got); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if got["fetchesMessages"] != true {
			t.Errorf("fetchesMessages: got %v", got["fetchesMessages"])
		}

		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	transport := NewTransport(srv.URL, nil, nil)
	auth := BasicAuth{Username: "+15551234567.1", Password: "test-password"}

	_, status, err := transport.PutJSON(context.Background(), "/v1/accounts/attributes/",
		map[string]any{"fetchesMessages": true}, &auth)
	if err != nil {
		t.Fatal(err)
	}
	if status != http.StatusNoContent {
		t.Fatalf("status: got %d, want 204", status)
	}
}

func TestTransportGetJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("method: got %s, want GET", r.Method)
		}
		if r.URL.Path != "/v1/devices/" {
			t.Errorf("path: got %s", r.URL.Path)
		}

		user, _, ok := r.BasicAuth()
		if !ok {
			t.Error("missing basic auth")
		}
		if user != "+15551234567.1" {
			t.Errorf("username: got %q", user)
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(deviceListResponse{
			Devices: []DeviceInfo{
				{ID: 1, Name: "Primary"},
				{ID: 2, Name: "Secondary"},
			},
		})
	}))
	defer srv.Close()

	transport := NewTransport(srv.URL, nil, nil)
	auth := BasicAuth{Username: "+15551234567.1", Password: "password"}

	var resp deviceListResponse
	status, err := transport.GetJSON(context.Background(), "/v1/devices/", &auth, &resp)
	if err != nil {
		t.Fatal(err)
	}
	if status != http.StatusOK {
		t.Fatalf("status: got %d, want 200", status)
	}
	if len(resp.Devices) != 2 {
		t.Errorf("devices: got %d, want 2", len(resp.Devices))
	}
	if resp.Devices[0].Name != "Primary" {
		t.Errorf("device[0].name: got %q", resp.Devices[0].Name)
	}
}

func TestTransportRetriesOn429(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 2 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	transport := NewTransport(srv.URL, nil, nil)
	_, status, err := transport.Get(context.Background(), "/v1/devices/", nil)
	if err != nil {
		t.Fatal(err)
	}
	if status != http.StatusOK {
		t.Fatalf("status: got %d, want 200", status)
	}
	if attempts < 2 {
		t.Fatalf("expected at least 2 attempts, got %d", attempts)
	}
}
