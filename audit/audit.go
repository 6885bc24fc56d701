// Package audit defines the request-scoped diagnostic sink that resolution
// writes failure notes into.
package audit

import (
	"strings"
	"sync"
	"unicode/utf8"
)

// MaxDetailLength is the capacity of the action_detail audit column.
const MaxDetailLength = 512

// UnavailablePrefix opens the note listing unreachable resolvers.
const UnavailablePrefix = "Failed to connect to: "

// Sink receives diagnostic text for the current request.
type Sink interface {
	AppendDetail(text string)
	Detail() string
}

// Record is a concurrency-safe Sink holding one action_detail value.
type Record struct {
	mu     sync.Mutex
	detail string
}

// NewRecord returns an empty Record.
func NewRecord() *Record { return &Record{} }

func (r *Record) AppendDetail(text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.detail = truncate(r.detail + text)
}

func (r *Record) Detail() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.detail
}

type discard struct{}

func (discard) AppendDetail(string) {}
func (discard) Detail() string      { return "" }

// Discard drops everything written to it.
var Discard Sink = discard{}

// OrDiscard returns s, or Discard when s is nil.
func OrDiscard(s Sink) Sink {
	if s == nil {
		return Discard
	}
	return s
}

// NoteUnavailable records that spec could not be reached.
func NoteUnavailable(s Sink, spec string) {
	s = OrDiscard(s)
	if r, ok := s.(*Record); ok {
		r.noteUnavailable(spec)
		return
	}
	if s.Detail() == "" {
		s.AppendDetail(UnavailablePrefix)
	}
	s.AppendDetail(spec + ", ")
}

// noteUnavailable checks and appends under one lock so concurrent notes
// write the prefix once.
func (r *Record) noteUnavailable(spec string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.detail == "" {
		r.detail = UnavailablePrefix
	}
	r.detail = truncate(r.detail + spec + ", ")
}

// Unavailable extracts the resolver specs listed by NoteUnavailable.
func Unavailable(s Sink) []string {
	d := OrDiscard(s).Detail()
	_, rest, ok := strings.Cut(d, UnavailablePrefix)
	if !ok {
		return nil
	}
	var out []string
	for _, part := range strings.Split(rest, ", ") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func truncate(s string) string {
	if len(s) <= MaxDetailLength {
		return s
	}
	s = s[:MaxDetailLength]
	for !utf8.ValidString(s) {
		s = s[:len(s)-1]
	}
	return s
}
