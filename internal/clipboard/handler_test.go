package clipboard

import (
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func request(method, remote, body string) *http.Request {
	req := httptest.NewRequest(method, "/", strings.NewReader(body))
	req.RemoteAddr = remote
	return req
}

func TestHandler_Paste(t *testing.T) {
	clip := &Memory{}
	clip.Write("hello from host")
	h := NewHandler(HandlerConfig{Clipboard: clip})

	w := httptest.NewRecorder()
	h.ServeHTTP(w, request(http.MethodGet, "127.0.0.1:40000", ""))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if got := w.Body.String(); got != "hello from host" {
		t.Errorf("body = %q, want %q", got, "hello from host")
	}
}

func TestHandler_Copy(t *testing.T) {
	clip := &Memory{}
	h := NewHandler(HandlerConfig{Clipboard: clip, Allowed: []string{"172.17.0.2"}})

	w := httptest.NewRecorder()
	h.ServeHTTP(w, request(http.MethodPost, "172.17.0.2:51000", "yanked text"))

	if w.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusNoContent)
	}
	if got, _ := clip.Read(); got != "yanked text" {
		t.Errorf("clipboard = %q, want %q", got, "yanked text")
	}
}

func TestHandler_RejectsUnknownClients(t *testing.T) {
	clip := &Memory{}
	h := NewHandler(HandlerConfig{Clipboard: clip, Allowed: []string{"172.17.0.2"}})

	tests := []struct {
		remote string
		want   int
	}{
		{"127.0.0.1:1", http.StatusNoContent},
		{"[::1]:1", http.StatusNoContent},
		{"172.17.0.2:1", http.StatusNoContent},
		{"172.17.0.3:1", http.StatusForbidden},
		{"192.168.1.10:1", http.StatusForbidden},
		{"garbage", http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.remote, func(t *testing.T) {
			w := httptest.NewRecorder()
			h.ServeHTTP(w, request(http.MethodPost, tt.remote, "x"))
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
		})
	}

	if clip.Writes != 3 {
		t.Errorf("Writes = %d, want 3", clip.Writes)
	}
}

func TestHandler_Allow(t *testing.T) {
	h := NewHandler(HandlerConfig{Clipboard: &Memory{}})

	w := httptest.NewRecorder()
	h.ServeHTTP(w, request(http.MethodGet, "10.0.0.5:1", ""))
	if w.Code != http.StatusForbidden {
		t.Fatalf("status = %d before Allow, want %d", w.Code, http.StatusForbidden)
	}

	h.Allow("10.0.0.5")
	w = httptest.NewRecorder()
	h.ServeHTTP(w, request(http.MethodGet, "10.0.0.5:1", ""))
	if w.Code != http.StatusOK {
		t.Errorf("status = %d after Allow, want %d", w.Code, http.StatusOK)
	}
}

func TestHandler_TooLarge(t *testing.T) {
	clip := &Memory{}
	h := NewHandler(HandlerConfig{Clipboard: clip, MaxBytes: 4})

	w := httptest.NewRecorder()
	h.ServeHTTP(w, request(http.MethodPost, "127.0.0.1:1", "too long"))

	if w.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("status = %d, want %d", w.Code, http.StatusRequestEntityTooLarge)
	}
	if clip.Writes != 0 {
		t.Error("oversized body must not reach the clipboard")
	}
}

func TestHandler_ClipboardErrors(t *testing.T) {
	clip := &Memory{ReadErr: fmt.Errorf("no xclip"), WriteErr: fmt.Errorf("no xclip")}
	h := NewHandler(HandlerConfig{Clipboard: clip})

	for _, method := range []string{http.MethodGet, http.MethodPost} {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, request(method, "127.0.0.1:1", "x"))
		if w.Code != http.StatusServiceUnavailable {
			t.Errorf("%s status = %d, want %d", method, w.Code, http.StatusServiceUnavailable)
		}
	}
}

func TestHandler_MethodNotAllowed(t *testing.T) {
	h := NewHandler(HandlerConfig{Clipboard: &Memory{}})

	w := httptest.NewRecorder()
	h.ServeHTTP(w, request(http.MethodDelete, "127.0.0.1:1", ""))

	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want %d", w.Code, http.StatusMethodNotAllowed)
	}
	if allow := w.Header().Get("Allow"); allow == "" {
		t.Error("Allow header not set")
	}
	io.Copy(io.Discard, w.Body)
}
