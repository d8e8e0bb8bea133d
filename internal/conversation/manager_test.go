package conversation

import (
	"fmt"
	"testing"
	"time"

	"github.com/hurricanerix/tagweave/internal/textgen"
)

func TestNewManager(t *testing.T) {
	m := NewManager()

	if m.Len() != 0 {
		t.Errorf("new manager has %d messages, want 0", m.Len())
	}
	if m.History() != nil {
		t.Error("History() of empty transcript should be nil")
	}
	if m.ImpersonateInput() != "" {
		t.Error("ImpersonateInput() should start empty")
	}
}

func TestAppend(t *testing.T) {
	m := NewManager()

	idx := m.Append(Message{Name: "User", IsUser: true, Text: "hello"})
	if idx != 0 {
		t.Errorf("first index = %d, want 0", idx)
	}
	idx = m.Append(Message{Name: "Alice", Text: "hi"})
	if idx != 1 {
		t.Errorf("second index = %d, want 1", idx)
	}

	history := m.History()
	if len(history) != 2 || history[0].Text != "hello" || history[1].Name != "Alice" {
		t.Errorf("unexpected history: %+v", history)
	}

	// History is a copy.
	history[0].Text = "changed"
	if m.History()[0].Text != "hello" {
		t.Error("modifying History() result changed the transcript")
	}
}

func TestHistoryBounded(t *testing.T) {
	m := NewManager()
	for i := 0; i < MaxHistorySize+25; i++ {
		m.Append(Message{Text: fmt.Sprintf("msg %d", i)})
	}

	history := m.History()
	if len(history) != MaxHistorySize {
		t.Fatalf("history length = %d, want %d", len(history), MaxHistorySize)
	}
	if history[0].Text != "msg 25" {
		t.Errorf("oldest kept message = %q, want %q", history[0].Text, "msg 25")
	}
}

func TestClear(t *testing.T) {
	m := NewManager()
	m.Append(Message{Text: "a"})
	m.SetImpersonateInput("draft")

	m.Clear()

	if m.Len() != 0 || m.ImpersonateInput() != "" {
		t.Error("Clear() should remove messages and impersonation input")
	}
}

func TestMessageRole(t *testing.T) {
	tests := []struct {
		msg  Message
		want string
	}{
		{Message{IsUser: true}, textgen.RoleUser},
		{Message{}, textgen.RoleAssistant},
		{Message{IsSystem: true}, textgen.RoleSystem},
		{Message{IsSystem: true, IsUser: true}, textgen.RoleSystem},
	}
	for _, tt := range tests {
		if got := tt.msg.Role(); got != tt.want {
			t.Errorf("Role() of %+v = %q, want %q", tt.msg, got, tt.want)
		}
	}
}

func TestBuildContext(t *testing.T) {
	m := NewManager()
	m.Append(Message{Name: "User", IsUser: true, Text: "hello", SendDate: time.Now()})
	m.Append(Message{Name: "Alice", Text: "hi there"})
	m.Append(Message{Name: "Narrator", IsSystem: true, Text: "", Extra: &Extra{Image: "/images/1", Type: ExtraTypeNarrator}})
	m.Append(Message{Name: "Narrator", IsSystem: true, Text: "The sun sets."})

	got := m.BuildContext(0)
	want := []textgen.Message{
		{Role: textgen.RoleUser, Name: "User", Content: "hello"},
		{Role: textgen.RoleAssistant, Name: "Alice", Content: "hi there"},
		{Role: textgen.RoleAssistant, Name: "Narrator", Content: "The sun sets."},
	}
	if len(got) != len(want) {
		t.Fatalf("BuildContext() = %+v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("message %d = %+v, want %+v", i, got[i], want[i])
		}
	}

	limited := m.BuildContext(2)
	if len(limited) != 1 || limited[0].Content != "The sun sets." {
		t.Errorf("BuildContext(2) = %+v", limited)
	}
}
