package flower

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestAuthenticateSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/user/v1/authenticate" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		if err := r.ParseForm(); err != nil {
			t.Fatalf("parse form: %v", err)
		}
		if got := r.PostForm.Get("grant_type"); got != "password" {
			t.Fatalf("grant_type = %q", got)
		}
		if got := r.PostForm.Get("username"); got != "user@example.com" {
			t.Fatalf("username = %q", got)
		}
		if got := r.PostForm.Get("client_id"); got != "cid" {
			t.Fatalf("client_id = %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"access_token":"tok-1","expires_in":3600}`)
	}))
	defer srv.Close()

	cfg := Config{ClientID: "cid", ClientSecret: "sec", BaseURL: srv.URL}
	c, err := Authenticate(context.Background(), cfg, "user@example.com", "hunter2")
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if c.Token() != "tok-1" {
		t.Fatalf("token = %q, want tok-1", c.Token())
	}
}

func TestAuthenticateRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		io.WriteString(w, `{"error":"invalid_grant","error_description":"Wrong email or password."}`)
	}))
	defer srv.Close()

	cfg := Config{ClientID: "cid", ClientSecret: "sec", BaseURL: srv.URL}
	_, err := Authenticate(context.Background(), cfg, "user@example.com", "wrong")
	if err == nil {
		t.Fatal("expected error")
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *APIError, got %T", err)
	}
	if apiErr.Error() != "Wrong email or password." {
		t.Fatalf("error text = %q", apiErr.Error())
	}
	if apiErr.Status != http.StatusBadRequest {
		t.Fatalf("status = %d", apiErr.Status)
	}
}

func TestGarden(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/sensor_data/v4/garden_locations_status" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok-1" {
			t.Fatalf("authorization = %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"sensors":{
			"s2":{"plant_nickname":"Fern","last_upload_datetime_utc":"2026-08-30T10:00:00Z"},
			"s1":{"plant_nickname":"Rose","last_upload_datetime_utc":"2026-08-29T08:00:00Z","images":[{"url":"https://img.example/rose.jpg"}]}
		}}`)
	}))
	defer srv.Close()

	c := FromToken(Config{BaseURL: srv.URL}, "tok-1")
	sensors, err := c.Garden(context.Background())
	if err != nil {
		t.Fatalf("garden: %v", err)
	}
	if len(sensors) != 2 {
		t.Fatalf("sensors = %d, want 2", len(sensors))
	}
	// Sorted by id.
	if sensors[0].ID != "s1" || sensors[0].Nickname != "Rose" {
		t.Fatalf("first sensor = %+v", sensors[0])
	}
	if sensors[0].ImageURL != "https://img.example/rose.jpg" {
		t.Fatalf("image url = %q", sensors[0].ImageURL)
	}
	if sensors[1].ID != "s2" || sensors[1].ImageURL != "" {
		t.Fatalf("second sensor = %+v", sensors[1])
	}
}

func TestImage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/jpeg")
		if r.Method == http.MethodHead {
			return
		}
		w.Write([]byte("jpeg-bytes"))
	}))
	defer srv.Close()

	c := FromToken(Config{BaseURL: srv.URL}, "tok-1")
	img, err := c.Image(context.Background(), srv.URL+"/plant.jpg")
	if err != nil {
		t.Fatalf("image: %v", err)
	}
	defer img.Body.Close()

	if img.ContentType != "image/jpeg" {
		t.Fatalf("content type = %q", img.ContentType)
	}
	data, err := io.ReadAll(img.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	if string(data) != "jpeg-bytes" {
		t.Fatalf("body = %q", data)
	}
}

func TestImageHeadFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := FromToken(Config{BaseURL: srv.URL}, "tok-1")
	if _, err := c.Image(context.Background(), srv.URL+"/missing.jpg"); err == nil {
		t.Fatal("expected error for missing image")
	}
}
