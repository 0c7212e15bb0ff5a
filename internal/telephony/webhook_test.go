package telephony

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"testing"
)

func sign(secret, body string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(body))
	return hex.EncodeToString(mac.Sum(nil))
}

func TestParseCallCompleted(t *testing.T) {
	body := `{"external_call_id":"ext-1","status":"completed","duration_seconds":42,"appointment":{"booked":true}}`

	ev, err := ParseCallCompleted("s3cret", strings.NewReader(body), sign("s3cret", body))
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if ev.ExternalCallID != "ext-1" || ev.DurationSeconds != 42 {
		t.Fatalf("unexpected event: %+v", ev)
	}
	if ev.Appointment == nil || !ev.Appointment.Booked {
		t.Fatalf("expected booked appointment")
	}
}

func TestParseCallCompleted_BadSignature(t *testing.T) {
	body := `{"external_call_id":"ext-1","status":"completed"}`
	if _, err := ParseCallCompleted("s3cret", strings.NewReader(body), sign("wrong", body)); !errors.Is(err, ErrBadSignature) {
		t.Fatalf("expected ErrBadSignature, got %v", err)
	}
}

func TestParseCallCompleted_Invalid(t *testing.T) {
	for _, body := range []string{
		`{"status":"completed"}`,
		`{"external_call_id":"ext-1","status":"exploded"}`,
	} {
		if _, err := ParseCallCompleted("s3cret", strings.NewReader(body), sign("s3cret", body)); err == nil {
			t.Fatalf("expected error for %s", body)
		}
	}
}

func TestAttemptStatusMapping(t *testing.T) {
	cases := map[string]string{
		"completed": "completed",
		"no_answer": "no_answer",
		"no-answer": "no_answer",
		"failed":    "failed",
		"busy":      "failed",
	}
	for in, want := range cases {
		got, err := CallCompletedEvent{Status: in}.AttemptStatus()
		if err != nil {
			t.Fatalf("%s: %v", in, err)
		}
		if string(got) != want {
			t.Fatalf("%s: expected %s, got %s", in, want, got)
		}
	}
}
