package audit

import (
	"strings"
	"sync"
	"testing"
)

func TestNoteUnavailable(t *testing.T) {
	r := NewRecord()
	NoteUnavailable(r, "ldap.corp")
	NoteUnavailable(r, "sql.users")

	want := "Failed to connect to: ldap.corp, sql.users, "
	if got := r.Detail(); got != want {
		t.Errorf("Detail() = %q, want %q", got, want)
	}
	if got := Unavailable(r); len(got) != 2 || got[0] != "ldap.corp" || got[1] != "sql.users" {
		t.Errorf("Unavailable() = %v", got)
	}
}

func TestNoteUnavailable_Concurrent(t *testing.T) {
	r := NewRecord()
	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			NoteUnavailable(r, "x.y")
		}()
	}
	wg.Wait()
	if n := strings.Count(r.Detail(), UnavailablePrefix); n != 1 {
		t.Errorf("expected prefix once, got %d in %q", n, r.Detail())
	}
	if n := strings.Count(r.Detail(), "x.y, "); n != 20 {
		t.Errorf("expected 20 notes, got %d", n)
	}
}

// plainSink exercises the generic Sink path.
type plainSink struct{ b strings.Builder }

func (p *plainSink) AppendDetail(s string) { p.b.WriteString(s) }
func (p *plainSink) Detail() string        { return p.b.String() }

func TestNoteUnavailable_CustomSink(t *testing.T) {
	s := &plainSink{}
	NoteUnavailable(s, "a.b")
	if s.Detail() != "Failed to connect to: a.b, " {
		t.Errorf("unexpected detail %q", s.Detail())
	}
}

func TestTruncation(t *testing.T) {
	r := NewRecord()
	r.AppendDetail(strings.Repeat("é", MaxDetailLength))
	if len(r.Detail()) > MaxDetailLength {
		t.Errorf("detail exceeds %d bytes: %d", MaxDetailLength, len(r.Detail()))
	}
	if !strings.HasPrefix(r.Detail(), "é") || strings.ContainsRune(r.Detail(), '�') {
		t.Error("expected truncation on a rune boundary")
	}
}

func TestDiscard(t *testing.T) {
	NoteUnavailable(nil, "a.b")
	Discard.AppendDetail("x")
	if Discard.Detail() != "" {
		t.Error("expected Discard to stay empty")
	}
	if Unavailable(nil) != nil {
		t.Error("expected no specs from nil sink")
	}
}
