// Package keystroke models recorded typing of a fixed phrase and turns it
// into the fixed feature vector used for behavioral authentication.
//
// IMPORTANT: a RecordingSession holds which keys were pressed and when,
// because dwell and flight times require press/release pairing. Sessions
// are short-lived: they exist only between the start of a recording and
// feature extraction, after which callers are expected to discard them.
package keystroke

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EventKind distinguishes key presses from key releases.
type EventKind int

const (
	// KindPress is a key-down event.
	KindPress EventKind = iota
	// KindRelease is a key-up event.
	KindRelease
)

// String returns the string representation of the event kind.
func (k EventKind) String() string {
	switch k {
	case KindPress:
		return "press"
	case KindRelease:
		return "release"
	default:
		return "unknown"
	}
}

// ParseEventKind parses a string into an EventKind.
func ParseEventKind(s string) (EventKind, error) {
	switch s {
	case "press":
		return KindPress, nil
	case "release":
		return KindRelease, nil
	default:
		return KindPress, fmt.Errorf("unknown event kind: %q", s)
	}
}

// MarshalJSON encodes the kind as its string form.
func (k EventKind) MarshalJSON() ([]byte, error) {
	return []byte(`"` + k.String() + `"`), nil
}

// UnmarshalJSON decodes the kind from its string form.
func (k *EventKind) UnmarshalJSON(data []byte) error {
	s := string(data)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	parsed, err := ParseEventKind(s)
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// KeyEvent is a single timestamped press or release. Events are immutable
// once appended to a session.
type KeyEvent struct {
	KeyID     string    `json:"key_id"`
	Kind      EventKind `json:"kind"`
	Timestamp time.Time `json:"timestamp"`
}

// ErrSessionClosed is returned when recording into a finished session.
var ErrSessionClosed = errors.New("recording session is closed")

// RecordingSession accumulates key events for one entry of the phrase,
// in arrival order.
type RecordingSession struct {
	SessionID string     `json:"session_id"`
	UserID    int64      `json:"user_id"`
	StartedAt time.Time  `json:"started_at"`
	Events    []KeyEvent `json:"events"`
	Closed    bool       `json:"closed"`
}

// NewRecordingSession starts a new recording for the given user.
func NewRecordingSession(userID int64) *RecordingSession {
	return &RecordingSession{
		SessionID: uuid.NewString(),
		UserID:    userID,
		StartedAt: time.Now(),
	}
}

// Record appends a key event to the session in arrival order.
func (s *RecordingSession) Record(keyID string, kind EventKind, at time.Time) error {
	if s.Closed {
		return ErrSessionClosed
	}
	s.Events = append(s.Events, KeyEvent{KeyID: keyID, Kind: kind, Timestamp: at})
	return nil
}

// Close marks the session finished. Further Record calls fail.
func (s *RecordingSession) Close() {
	s.Closed = true
}

// PressCount returns the number of key-press events recorded.
func (s *RecordingSession) PressCount() int {
	n := 0
	for _, e := range s.Events {
		if e.Kind == KindPress {
			n++
		}
	}
	return n
}
