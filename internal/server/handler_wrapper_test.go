package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

type echoRequest struct {
	pathPart
	Limit int    `query:"limit"`
	Weak  bool   `query:"weak"`
	Body  string `json:"body"`
}

type pathPart struct {
	Path string `path:"path"`
}

func TestWrap(t *testing.T) {
	mux := http.NewServeMux()
	mux.Handle("POST /echo/{path...}", Wrap(func(_ context.Context, in echoRequest) (*echoRequest, error) {
		return &in, nil
	}))
	tests := []struct {
		name   string
		target string
		body   string
		status int
		want   echoRequest
	}{
		{"bound", "/echo/a/b?limit=3&weak=true", `{"body":"x"}`, http.StatusOK, echoRequest{pathPart{"a/b"}, 3, true, "x"}},
		{"no body", "/echo/a", "", http.StatusOK, echoRequest{pathPart: pathPart{"a"}}},
		{"bad int", "/echo/a?limit=x", "", http.StatusBadRequest, echoRequest{}},
		{"unknown field", "/echo/a", `{"other":1}`, http.StatusBadRequest, echoRequest{}},
		{"bad json", "/echo/a", `{`, http.StatusBadRequest, echoRequest{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			mux.ServeHTTP(w, httptest.NewRequest("POST", tt.target, strings.NewReader(tt.body)))
			if w.Code != tt.status {
				t.Fatalf("status = %d, want %d: %s", w.Code, tt.status, w.Body)
			}
			if tt.status != http.StatusOK {
				var e errorResponse
				if err := json.Unmarshal(w.Body.Bytes(), &e); err != nil || e.Error.Code != "VALIDATION_FAILED" {
					t.Errorf("error = %s", w.Body)
				}
				return
			}
			var got echoRequest
			if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Errorf("got %+v, want %+v", got, tt.want)
			}
		})
	}
}
