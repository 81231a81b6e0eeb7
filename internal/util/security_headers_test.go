package util

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestWithSecurityHeaders(t *testing.T) {
	h := WithSecurityHeaders(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	for _, proto := range []string{"", "https"} {
		req := httptest.NewRequest(http.MethodGet, "/api/session", nil)
		if proto != "" {
			req.Header.Set("X-Forwarded-Proto", proto)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		want := map[string]string{
			"X-Content-Type-Options": "nosniff",
			"X-Frame-Options":        "DENY",
			"Referrer-Policy":        "no-referrer",
			"Cache-Control":          "no-store",
		}
		for k, v := range want {
			if got := rec.Header().Get(k); got != v {
				t.Fatalf("%s = %q, want %q", k, got, v)
			}
		}
		hsts := rec.Header().Get("Strict-Transport-Security")
		if (proto == "https") != (hsts != "") {
			t.Fatalf("proto %q: unexpected HSTS %q", proto, hsts)
		}
	}
}
