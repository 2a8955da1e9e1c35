package web

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestServer_Routes(t *testing.T) {
	srv := NewServer(":0", NewStatusBroadcaster(), newFakeRunner(),
		[]string{"lower", "lift"}, CommandDefaults{StepWidthMm: 50})
	mux := srv.Mux()

	cases := []struct {
		method, path string
		want         int
	}{
		{http.MethodGet, "/", http.StatusOK},
		{http.MethodGet, "/commands", http.StatusOK},
		{http.MethodGet, "/legs", http.StatusOK},
		{http.MethodGet, "/config", http.StatusOK},
		{http.MethodPost, "/command/unknown", http.StatusNotFound},
		{http.MethodGet, "/nothing-here", http.StatusNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.method+" "+tc.path, func(t *testing.T) {
			w := httptest.NewRecorder()
			mux.ServeHTTP(w, httptest.NewRequest(tc.method, tc.path, nil))
			if w.Code != tc.want {
				t.Errorf("status = %d, want %d", w.Code, tc.want)
			}
		})
	}
}

func TestServer_EmbeddedIndex(t *testing.T) {
	srv := NewServer(":0", NewStatusBroadcaster(), nil, nil, CommandDefaults{})
	w := httptest.NewRecorder()
	srv.Mux().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	if !strings.Contains(w.Body.String(), "/status/stream") {
		t.Error("index page should subscribe to the status stream")
	}
}

func TestServer_CommandsListing(t *testing.T) {
	srv := NewServer(":0", NewStatusBroadcaster(), newFakeRunner(), []string{"lift", "lower"}, CommandDefaults{})
	w := httptest.NewRecorder()
	srv.Mux().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/commands", nil))
	var names []string
	if err := json.NewDecoder(w.Body).Decode(&names); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(names) != 2 {
		t.Errorf("commands = %v", names)
	}
}
