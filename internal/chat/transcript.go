// Package chat keeps a short transcript of relayed text per active session,
// attached to reports so reviewers see what led up to them.
package chat

// DefaultSize is the number of text messages kept per session.
const DefaultSize = 5

// Entry is one relayed text message as the recipient saw it.
type Entry struct {
	From string `json:"from"` // sender's user ID
	Text string `json:"text"` // masked display text
	Ts   int64  `json:"ts"`
}

// Transcripts holds the most recent entries of each session. It is not safe
// for concurrent use; the engine serializes access.
type Transcripts struct {
	size     int
	sessions map[string][]Entry
}

// NewTranscripts keeps up to size entries per session. A size below one
// uses DefaultSize.
func NewTranscripts(size int) *Transcripts {
	if size < 1 {
		size = DefaultSize
	}
	return &Transcripts{size: size, sessions: make(map[string][]Entry)}
}

// Record appends e to sessionID's transcript, dropping the oldest entry once
// the transcript is full.
func (t *Transcripts) Record(sessionID string, e Entry) {
	lines := t.sessions[sessionID]
	if lines == nil {
		lines = make([]Entry, 0, t.size)
	}
	if len(lines) == t.size {
		copy(lines, lines[1:])
		lines = lines[:t.size-1]
	}
	t.sessions[sessionID] = append(lines, e)
}

// Recent returns a copy of sessionID's transcript, oldest first. It is empty,
// not nil, for an unknown session.
func (t *Transcripts) Recent(sessionID string) []Entry {
	lines := t.sessions[sessionID]
	out := make([]Entry, len(lines))
	copy(out, lines)
	return out
}

// Forget drops sessionID's transcript.
func (t *Transcripts) Forget(sessionID string) {
	delete(t.sessions, sessionID)
}
