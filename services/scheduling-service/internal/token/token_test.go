package token

import (
	"testing"
	"time"
)

func TestIssueAndVerify(t *testing.T) {
	iss := NewIssuer("test-secret", time.Hour)

	tok, jti, err := iss.Issue("appt-1", ActionConfirm, "mentor-1")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if jti == "" {
		t.Fatal("expected non-empty jti")
	}

	claims, err := iss.Verify(tok, ActionConfirm)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if claims.AppointmentID != "appt-1" {
		t.Fatalf("appointment_id = %q, want appt-1", claims.AppointmentID)
	}
	if claims.Jti != jti {
		t.Fatalf("jti = %q, want %q", claims.Jti, jti)
	}
	if claims.Sub != "mentor-1" {
		t.Fatalf("sub = %q, want mentor-1", claims.Sub)
	}
}

func TestVerifyRejectsWrongAction(t *testing.T) {
	iss := NewIssuer("test-secret", time.Hour)

	tok, _, err := iss.Issue("appt-1", ActionConfirm, "mentor-1")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	if _, err := iss.Verify(tok, ActionCancel); err == nil {
		t.Fatal("expected error verifying confirm token as cancel")
	}
}

func TestVerifyRejectsExpired(t *testing.T) {
	iss := NewIssuer("test-secret", -time.Minute)

	tok, _, err := iss.Issue("appt-1", ActionCancel, "mentee-1")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	if _, err := iss.Verify(tok, ActionCancel); err == nil {
		t.Fatal("expected error verifying expired token")
	}
}

func TestVerifyRejectsOtherSecret(t *testing.T) {
	iss := NewIssuer("test-secret", time.Hour)
	other := NewIssuer("other-secret", time.Hour)

	tok, _, err := iss.Issue("appt-1", ActionConfirm, "mentor-1")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	if _, err := other.Verify(tok, ActionConfirm); err == nil {
		t.Fatal("expected error verifying with different secret")
	}
}
