package events

import "time"

// Type enumerates the engine events flowing to push consumers. Delivery is
// fire-and-forget: consumers must tolerate missed and duplicated events.
type Type string

const (
	// TypeStreamStarted fires once a broadcast reaches its active state.
	TypeStreamStarted Type = "stream_started"
	// TypeStreamEnded fires after a broadcast's cleanup has completed,
	// whether it was stopped, crashed, or ran out of quota.
	TypeStreamEnded Type = "stream_ended"
	// TypeStats carries periodic encoder progress samples.
	TypeStats Type = "stats"
	// TypeLog carries human-readable lifecycle messages.
	TypeLog Type = "log"
)

// Event is the wire representation fanned out to subscribers.
type Event struct {
	Type       Type        `json:"type"`
	SessionID  string      `json:"sessionId,omitempty"`
	OwnerID    string      `json:"ownerId,omitempty"`
	Stats      *StatsEvent `json:"stats,omitempty"`
	Log        *LogEvent   `json:"log,omitempty"`
	OccurredAt time.Time   `json:"occurredAt"`
}

// StatsEvent samples encoder progress for one broadcast.
type StatsEvent struct {
	ElapsedSeconds int64  `json:"elapsedSeconds"`
	Bitrate        string `json:"bitrate,omitempty"`
	RemainingQuota int64  `json:"remainingQuota"`
}

// LogEvent carries a lifecycle message for display in the dashboard.
type LogEvent struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}
