package convo

import (
	"fmt"
	"sync"
	"testing"
)

func TestAppendEnforcesBound(t *testing.T) {
	const bound = 20
	m := NewManager(bound)

	// Append bound+5 turns; only the last `bound` survive, in order.
	for i := 0; i < bound+5; i++ {
		m.Append("u1", Turn{Role: RoleUser, Content: fmt.Sprintf("turn-%d", i)})
	}

	got := m.Recent("u1")
	if len(got) != bound {
		t.Fatalf("retained %d turns, want %d", len(got), bound)
	}
	for i, turn := range got {
		want := fmt.Sprintf("turn-%d", i+5)
		if turn.Content != want {
			t.Fatalf("turn %d = %q, want %q (relative order must be preserved)", i, turn.Content, want)
		}
	}
}

func TestNoCrossUserVisibility(t *testing.T) {
	m := NewManager(10)
	m.Append("u1", Turn{Role: RoleUser, Content: "mine"})
	m.Append("u2", Turn{Role: RoleUser, Content: "theirs"})

	for _, turn := range m.Recent("u1") {
		if turn.Content == "theirs" {
			t.Fatal("u2's turn leaked into u1's context")
		}
	}
	if len(m.Recent("u3")) != 0 {
		t.Fatal("unknown user should have empty context")
	}
}

func TestClear(t *testing.T) {
	m := NewManager(10)
	m.Append("u1", Turn{Role: RoleUser, Content: "hello"})
	m.SetLastReceipt("u1", "rcpt-1")

	m.Clear("u1")

	if len(m.Recent("u1")) != 0 {
		t.Error("clear should drop all turns")
	}
	if m.LastReceipt("u1") != "" {
		t.Error("clear should drop the receipt reference")
	}
}

func TestLastReceipt(t *testing.T) {
	m := NewManager(10)
	if m.LastReceipt("u1") != "" {
		t.Error("unknown user should have no receipt reference")
	}
	m.SetLastReceipt("u1", "rcpt-9")
	if got := m.LastReceipt("u1"); got != "rcpt-9" {
		t.Errorf("LastReceipt = %q, want rcpt-9", got)
	}
	if m.LastReceipt("u2") != "" {
		t.Error("receipt reference leaked across users")
	}
}

func TestConcurrentAppends(t *testing.T) {
	const bound = 50
	m := NewManager(bound)

	var wg sync.WaitGroup
	for _, user := range []string{"u1", "u2", "u3"} {
		for i := 0; i < bound; i++ {
			wg.Add(1)
			go func(user string, i int) {
				defer wg.Done()
				m.Append(user, Turn{Role: RoleUser, Content: fmt.Sprintf("%s-%d", user, i)})
			}(user, i)
		}
	}
	wg.Wait()

	for _, user := range []string{"u1", "u2", "u3"} {
		got := m.Recent(user)
		if len(got) != bound {
			t.Fatalf("%s retained %d turns, want %d", user, len(got), bound)
		}
		for _, turn := range got {
			if turn.Content[:2] != user {
				t.Fatalf("%s context contains foreign turn %q", user, turn.Content)
			}
		}
	}
}
