package callchat

import (
	"fmt"
	"testing"
	"time"

	"github.com/teamgrid/collabcore/internal/model"
)

func line(sender, text string) model.ChatLine {
	return model.ChatLine{SenderID: model.FlexID(sender), Sender: sender, Text: text, At: time.Now().UnixMilli()}
}

func TestAppendAndLines(t *testing.T) {
	s := New(16)
	s.Append(line("u1", "first"))
	s.Append(line("u2", "second"))

	got := s.Lines()
	if len(got) != 2 || got[0].Text != "first" || got[1].Text != "second" {
		t.Fatalf("lines order: %+v", got)
	}
}

func TestLogIsBounded(t *testing.T) {
	s := New(3)
	for i := 0; i < 10; i++ {
		s.Append(line("u1", fmt.Sprintf("line %d", i)))
	}
	got := s.Lines()
	if len(got) != 3 {
		t.Fatalf("log not bounded: len=%d", len(got))
	}
	if got[0].Text != "line 7" || got[2].Text != "line 9" {
		t.Fatalf("kept wrong window: %+v", got)
	}
}

func TestTypingExpiry(t *testing.T) {
	s := New(16)
	clock := time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return clock }

	s.SetTyping("u1", "Ann")
	s.SetTyping("u2", "Bob")

	got := s.TypingNames()
	if len(got) != 2 || got[0] != "Ann" || got[1] != "Bob" {
		t.Fatalf("typing names (sorted): %v", got)
	}

	clock = clock.Add(3 * time.Second)
	s.SetTyping("u2", "Bob") // refresh

	clock = clock.Add(2 * time.Second) // u1 now 5s old, u2 2s old
	got = s.TypingNames()
	if len(got) != 1 || got[0] != "Bob" {
		t.Fatalf("expiry: %v", got)
	}
}

func TestAppendClearsSenderTyping(t *testing.T) {
	s := New(16)
	s.SetTyping("u1", "Ann")
	s.Append(line("u1", "done typing"))
	if got := s.TypingNames(); len(got) != 0 {
		t.Fatalf("delivered message must clear typing: %v", got)
	}
}

func TestMembership(t *testing.T) {
	s := New(16)
	s.Join("u1", "Ann")
	s.Join("u2", "Bob")
	s.SetTyping("u2", "Bob")

	s.Leave("u2")
	members := s.Members()
	if len(members) != 1 || members["u1"] != "Ann" {
		t.Fatalf("members after leave: %v", members)
	}
	if got := s.TypingNames(); len(got) != 0 {
		t.Fatalf("leaver's typing state survived: %v", got)
	}
}

func TestSubscribe(t *testing.T) {
	s := New(16)
	ch, cancel := s.Subscribe()
	defer cancel()

	s.Append(line("u1", "hello"))
	select {
	case got := <-ch:
		if got.Text != "hello" {
			t.Fatalf("delivered line: %+v", got)
		}
	case <-time.After(time.Second):
		t.Fatal("line not delivered to subscriber")
	}

	cancel()
	cancel() // safe twice

	s.Close()
}
