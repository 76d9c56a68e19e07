package model

import "testing"

func TestAdvanceStatus(t *testing.T) {
	t.Run("forward transitions accepted", func(t *testing.T) {
		c := Call{Status: CallInitiated}
		if !c.AdvanceStatus(CallActive) {
			t.Fatal("INITIATED → ACTIVE rejected")
		}
		if !c.AdvanceStatus(CallEnded) {
			t.Fatal("ACTIVE → ENDED rejected")
		}
	})

	t.Run("stale events rejected", func(t *testing.T) {
		c := Call{Status: CallEnded}
		if c.AdvanceStatus(CallActive) {
			t.Error("ACTIVE after ENDED must be rejected")
		}
		if c.Status != CallEnded {
			t.Errorf("status changed by rejected transition: %s", c.Status)
		}
	})

	t.Run("terminal states exclusive", func(t *testing.T) {
		c := Call{Status: CallFailed}
		if c.AdvanceStatus(CallEnded) {
			t.Error("FAILED → ENDED must be rejected")
		}
		if !c.AdvanceStatus(CallFailed) {
			t.Error("repeating the same terminal status is harmless")
		}
	})

	t.Run("unknown status rejected", func(t *testing.T) {
		c := Call{Status: CallInitiated}
		if c.AdvanceStatus(CallStatus("RINGING")) {
			t.Error("unknown status accepted")
		}
	})
}

func TestAddParticipant(t *testing.T) {
	c := Call{ParticipantIDs: []FlexID{"u1"}}
	c.AddParticipant("u2")
	c.AddParticipant("u1")
	if len(c.ParticipantIDs) != 2 {
		t.Fatalf("want 2 participants, got %v", c.ParticipantIDs)
	}
}
