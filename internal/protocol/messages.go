package protocol

import "time"

// MelodyRequest asks a composer to render and play a digit sequence.
type MelodyRequest struct {
	RequestID string `json:"request_id"`
	Root      string `json:"root"`
	Mode      string `json:"mode"`
	Digits    string `json:"digits"`
}

// MelodyStatus reports the outcome of a MelodyRequest.
type MelodyStatus struct {
	RequestID string    `json:"request_id"`
	Root      string    `json:"root"`
	Mode      string    `json:"mode"`
	Symbols   int       `json:"symbols"`
	Samples   int       `json:"samples"`
	Completed bool      `json:"completed"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// AudioChunk carries a slice of signed 8-bit mono PCM to a speaker.
type AudioChunk struct {
	SessionID  string `json:"session_id"`
	Sequence   int    `json:"sequence"`
	SampleRate int    `json:"sample_rate"`
	Channels   int    `json:"channels"`
	BitDepth   int    `json:"bit_depth"`
	PCM        []byte `json:"pcm"`
	Final      bool   `json:"final"`
}

// PlaybackAck answers the final AudioChunk once the speaker has drained it.
type PlaybackAck struct {
	SessionID string    `json:"session_id"`
	Samples   int       `json:"samples"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Presence is published by every runtime on the bus, once on start and then
// on each heartbeat.
type Presence struct {
	NodeID    string    `json:"node_id"`
	Roles     []string  `json:"roles,omitempty"`
	Speakers  []string  `json:"speakers,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

const (
	SubjectMelodyRequest  = "melody.request"
	SubjectMelodyDone     = "melody.done"
	SubjectAudioPrefix    = "melody.audio"
	SubjectPresencePrefix = "melody.node.presence"
)

// SpeakerSubject is the subject a speaker named target listens on.
func SpeakerSubject(target string) string {
	return SubjectAudioPrefix + "." + target
}

// PresenceSubject is the subject node id publishes its presence on.
func PresenceSubject(nodeID string) string {
	return SubjectPresencePrefix + "." + nodeID
}
