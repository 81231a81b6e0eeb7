package webhook

import (
	"errors"
	"testing"
)

func TestExtractReply(t *testing.T) {
	tests := []struct {
		name        string
		contentType string
		body        string
		want        string
	}{
		{name: "blank body", contentType: "application/json", body: "  ", want: EmptyReplyText},
		{name: "plain text", contentType: "text/plain; charset=utf-8", body: " hello \n", want: "hello"},
		{name: "output field", contentType: "application/json", body: `{"reply":"r","output":" o "}`, want: "o"},
		{name: "reply field", contentType: "application/json", body: `{"output":"  ","reply":"r"}`, want: "r"},
		{name: "answer field", contentType: "application/json", body: `{"answer":"a"}`, want: "a"},
		{name: "first string field in document order", contentType: "application/json", body: `{"n":1,"zeta":"z","alpha":"a"}`, want: "z"},
		{name: "no usable field falls back to raw", contentType: "application/json", body: `{"n":1}`, want: `{"n":1}`},
		{name: "malformed json falls back to raw", contentType: "application/json", body: `{"output":`, want: `{"output":`},
		{name: "missing content type is text", contentType: "", body: `{"output":"x"}`, want: `{"output":"x"}`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := extractReply(tc.contentType, []byte(tc.body))
			if err != nil {
				t.Fatalf("extract reply: %v", err)
			}
			if got != tc.want {
				t.Fatalf("reply = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestExtractReplyEmptyObjectFails(t *testing.T) {
	_, err := extractReply("application/json", []byte(`{}`))
	var dfe *DataFormatError
	if !errors.As(err, &dfe) {
		t.Fatalf("expected DataFormatError, got %v", err)
	}
}

func TestRemoteErrorMessage(t *testing.T) {
	if got := remoteErrorMessage([]byte(`{"error":{"message":"quota"}}`), "500"); got != "quota" {
		t.Fatalf("got %q", got)
	}
	if got := remoteErrorMessage([]byte(`{"message":"down"}`), "500"); got != "down" {
		t.Fatalf("got %q", got)
	}
	if got := remoteErrorMessage([]byte(`oops`), "500"); got != "oops" {
		t.Fatalf("got %q", got)
	}
	if got := remoteErrorMessage(nil, "502 Bad Gateway"); got != "502 Bad Gateway" {
		t.Fatalf("got %q", got)
	}
}
