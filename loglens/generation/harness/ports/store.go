package harnessports

import "github.com/ZanzyTHEbar/loglens/loglens/conversation"

// SessionStore is the conversation memory the orchestrator reads and commits to.
type SessionStore interface {
	GetOrCreate(id string) conversation.Session
	Append(id string, msgs ...conversation.Message) conversation.Session
}

var _ SessionStore = (*conversation.Store)(nil)
