package upload

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/chaz8081/scale-sync/internal/domain"
)

func TestUploadSendsPayload(t *testing.T) {
	var (
		gotAuth    string
		gotType    string
		gotPath    string
		gotPayload weightPayload
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotType = r.Header.Get("Content-Type")
		gotPath = r.URL.Path
		if err := json.NewDecoder(r.Body).Decode(&gotPayload); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	ts := time.Date(2026, 3, 1, 7, 30, 15, 250_000_000, time.UTC)
	m := domain.NewMeasurement(72.35, ts)

	c := NewClient(srv.URL+"/", time.Second)
	if err := c.Upload(context.Background(), m, "tok-123"); err != nil {
		t.Fatalf("Upload() error = %v", err)
	}

	if gotPath != "/api/weights" {
		t.Errorf("path = %q, want /api/weights", gotPath)
	}
	if gotAuth != "Bearer tok-123" {
		t.Errorf("Authorization = %q, want %q", gotAuth, "Bearer tok-123")
	}
	if gotType != "application/json" {
		t.Errorf("Content-Type = %q", gotType)
	}
	if gotPayload.WeightKg != 72.35 {
		t.Errorf("weightKg = %v, want 72.35", gotPayload.WeightKg)
	}
	if gotPayload.Date != "2026-03-01T07:30:15.250Z" {
		t.Errorf("date = %q, want 2026-03-01T07:30:15.250Z", gotPayload.Date)
	}
}

func TestUploadStatusErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		check  func(error) bool
	}{
		{"unauthorized", http.StatusUnauthorized, func(err error) bool { return errors.Is(err, ErrUnauthorized) }},
		{"server error", http.StatusInternalServerError, func(err error) bool {
			var se *StatusError
			return errors.As(err, &se) && se.Code == 500
		}},
		{"bad request", http.StatusBadRequest, func(err error) bool {
			var se *StatusError
			return errors.As(err, &se) && se.Code == 400
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			err := NewClient(srv.URL, time.Second).Upload(context.Background(), domain.NewMeasurement(70, time.Now()), "tok")
			if !tt.check(err) {
				t.Errorf("Upload() error = %v", err)
			}
		})
	}
}

func TestUploadNotConfigured(t *testing.T) {
	err := NewClient("", 0).Upload(context.Background(), domain.NewMeasurement(70, time.Now()), "tok")
	if !errors.Is(err, ErrNotConfigured) {
		t.Errorf("Upload() error = %v, want ErrNotConfigured", err)
	}
}

func TestUploadNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	err := NewClient(url, time.Second).Upload(context.Background(), domain.NewMeasurement(70, time.Now()), "tok")
	if !errors.Is(err, ErrNetwork) {
		t.Errorf("Upload() error = %v, want ErrNetwork", err)
	}
}

func TestLogin(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/login" {
			http.NotFound(w, r)
			return
		}
		if r.Header.Get("Authorization") != "" {
			t.Error("login request must not carry a bearer token")
		}
		var req loginRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.Username != "ola" || req.Password != "pw" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_ = json.NewEncoder(w).Encode(loginResponse{Token: "fresh"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second)

	tok, err := c.Login(context.Background(), "ola", "pw")
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if tok != "fresh" {
		t.Errorf("Login() = %q, want fresh", tok)
	}

	if _, err := c.Login(context.Background(), "ola", "wrong"); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("Login(wrong) error = %v, want ErrUnauthorized", err)
	}
}

func TestLoginMalformedResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"access":"nope"}`))
	}))
	defer srv.Close()

	if _, err := NewClient(srv.URL, time.Second).Login(context.Background(), "a", "b"); !errors.Is(err, ErrBadToken) {
		t.Errorf("Login() error = %v, want ErrBadToken", err)
	}
}
