package model

import (
	"strings"
	"testing"
)

func TestDirectKeyFor(t *testing.T) {
	if got := DirectKeyFor("alice", "bob"); got != "alice:bob" {
		t.Errorf("DirectKeyFor(alice, bob) = %q, want %q", got, "alice:bob")
	}
	if got := DirectKeyFor("bob", "alice"); got != "alice:bob" {
		t.Errorf("DirectKeyFor(bob, alice) = %q, want %q", got, "alice:bob")
	}
	if DirectKeyFor("a", "b") != DirectKeyFor("b", "a") {
		t.Error("direct key must be independent of argument order")
	}
}

func TestHasParticipant(t *testing.T) {
	c := Conversation{ParticipantIDs: []string{"u1", "u2"}}

	if !c.HasParticipant("u1") {
		t.Error("expected u1 to be a participant")
	}
	if c.HasParticipant("u3") {
		t.Error("u3 must not be a participant")
	}
	if c.HasParticipant("") {
		t.Error("empty user id must not match")
	}
}

func TestValidContent(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    bool
	}{
		{"empty", "", false},
		{"simple", "hola", true},
		{"exactly max", strings.Repeat("a", MaxContentLength), true},
		{"one over max", strings.Repeat("a", MaxContentLength+1), false},
		// 5000 multi-byte runes are >5000 bytes but still valid: the
		// bound counts code points.
		{"max multibyte", strings.Repeat("ñ", MaxContentLength), true},
		{"over max multibyte", strings.Repeat("ñ", MaxContentLength+1), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ValidContent(tt.content); got != tt.want {
				t.Errorf("ValidContent(%s) = %v, want %v", tt.name, got, tt.want)
			}
		})
	}
}

func TestValidMessageType(t *testing.T) {
	for _, valid := range []string{MessageTypeText, MessageTypeImage, MessageTypeFile, MessageTypeSystem} {
		if !ValidMessageType(valid) {
			t.Errorf("expected %q to be a valid type", valid)
		}
	}
	for _, invalid := range []string{"", "video", "TEXT"} {
		if ValidMessageType(invalid) {
			t.Errorf("expected %q to be rejected", invalid)
		}
	}
}
