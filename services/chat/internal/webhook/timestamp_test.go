package webhook

import (
	"encoding/json"
	"testing"
	"time"
)

func TestParseTimestamp(t *testing.T) {
	tests := []struct {
		in   any
		want time.Time
		ok   bool
	}{
		{in: "2025-01-02T03:04:05Z", want: time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC), ok: true},
		{in: "2025-01-02T03:04:05.678+02:00", want: time.Date(2025, 1, 2, 1, 4, 5, 678e6, time.UTC), ok: true},
		{in: "2025-01-02 03:04:05", want: time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC), ok: true},
		{in: "2025-01-02", want: time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC), ok: true},
		{in: json.Number("1700000000000"), want: time.UnixMilli(1700000000000).UTC(), ok: true},
		{in: float64(0), want: time.Unix(0, 0).UTC(), ok: true},
		{in: "", ok: false},
		{in: "soon", ok: false},
		{in: json.Number("1e20"), ok: false},
		{in: nil, ok: false},
		{in: true, ok: false},
	}
	for _, tc := range tests {
		got, ok := parseTimestamp(tc.in)
		if ok != tc.ok {
			t.Fatalf("parseTimestamp(%#v) ok = %v, want %v", tc.in, ok, tc.ok)
		}
		if ok && !got.Equal(tc.want) {
			t.Fatalf("parseTimestamp(%#v) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestFormatTimestamp(t *testing.T) {
	ts := time.Date(2025, 1, 2, 3, 4, 5, 678900000, time.FixedZone("x", 3600))
	if got := formatTimestamp(ts); got != "2025-01-02T02:04:05.678Z" {
		t.Fatalf("formatTimestamp = %q", got)
	}
}
