package conversation

import (
	"strings"
	"time"
)

// DefaultMaxRounds is the number of user/assistant exchanges a session keeps.
const DefaultMaxRounds = 3

const (
	contextHeader  = "【历史对话上下文】"
	currentRequest = "【当前分析请求】"
)

// Session is the bounded conversation history for one identifier.
type Session struct {
	ID           string    `json:"sessionId"`
	History      []Message `json:"history"`
	LastActiveAt time.Time `json:"lastActiveAt"`

	maxRounds int
	now       func() time.Time
}

// NewSession creates an empty session that keeps at most maxRounds exchanges.
func NewSession(id string, maxRounds int) *Session {
	return newSession(id, maxRounds, time.Now)
}

func newSession(id string, maxRounds int, now func() time.Time) *Session {
	if maxRounds < 1 {
		maxRounds = DefaultMaxRounds
	}
	return &Session{
		ID:           id,
		LastActiveAt: now(),
		maxRounds:    maxRounds,
		now:          now,
	}
}

// AddMessage appends msg, refreshes LastActiveAt and drops the oldest
// messages beyond 2*maxRounds.
func (s *Session) AddMessage(msg Message) {
	s.History = append(s.History, msg)
	s.LastActiveAt = s.clock()

	maxRounds := s.maxRounds
	if maxRounds < 1 {
		maxRounds = DefaultMaxRounds
	}
	if limit := 2 * maxRounds; len(s.History) > limit {
		trimmed := make([]Message, limit)
		copy(trimmed, s.History[len(s.History)-limit:])
		s.History = trimmed
	}
}

// IsFirstRound reports whether the session has no history yet.
func (s *Session) IsFirstRound() bool {
	return len(s.History) == 0
}

// BuildContextText renders the history as a prompt prefix. It returns ""
// for an empty history.
func (s *Session) BuildContextText() string {
	if len(s.History) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString(contextHeader)
	b.WriteByte('\n')
	for _, msg := range s.History {
		b.WriteString(msg.Role.label())
		b.WriteString(msg.Content)
		b.WriteByte('\n')
	}
	b.WriteString(currentRequest)
	b.WriteByte('\n')
	return b.String()
}

func (s *Session) clock() time.Time {
	if s.now == nil {
		return time.Now()
	}
	return s.now()
}

// snapshot returns a copy that shares no mutable state with s.
func (s *Session) snapshot() Session {
	history := make([]Message, len(s.History))
	copy(history, s.History)
	return Session{
		ID:           s.ID,
		History:      history,
		LastActiveAt: s.LastActiveAt,
		maxRounds:    s.maxRounds,
		now:          s.now,
	}
}
