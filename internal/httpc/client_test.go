package httpc

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestPostSendsBody(t *testing.T) {
	var got string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		got = string(b)
	}))
	defer srv.Close()

	resp, err := Post(srv.URL, "text/plain", []byte("hello"))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()

	if got != "hello" {
		t.Errorf("body = %q, want %q", got, "hello")
	}
}

func TestDoJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/echo":
			var in map[string]int
			json.NewDecoder(r.Body).Decode(&in)
			in["n"]++
			json.NewEncoder(w).Encode(in)
		case "/empty":
			w.WriteHeader(http.StatusNoContent)
		default:
			http.Error(w, "nope", http.StatusNotFound)
		}
	}))
	defer srv.Close()
	ctx := context.Background()

	var out map[string]int
	if err := DoJSON(ctx, http.MethodPost, srv.URL+"/echo", map[string]int{"n": 1}, &out); err != nil {
		t.Fatal(err)
	}
	if out["n"] != 2 {
		t.Errorf("n = %d, want 2", out["n"])
	}

	if err := DoJSON(ctx, http.MethodDelete, srv.URL+"/empty", nil, &out); err != nil {
		t.Errorf("204: %v", err)
	}

	err := DoJSON(ctx, http.MethodGet, srv.URL+"/missing", nil, nil)
	var se *StatusError
	if !errors.As(err, &se) {
		t.Fatalf("err = %v, want *StatusError", err)
	}
	if se.Code != http.StatusNotFound || se.Body != "nope" {
		t.Errorf("got %d %q", se.Code, se.Body)
	}
}
