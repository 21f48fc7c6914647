package types

import "time"

// PayloadKind tags the variant carried by a Payload.
type PayloadKind string

const (
	KindText        PayloadKind = "text"
	KindImage       PayloadKind = "image"
	KindVideo       PayloadKind = "video"
	KindAudio       PayloadKind = "audio"
	KindLocation    PayloadKind = "location"
	KindCall        PayloadKind = "call"
	KindSystem      PayloadKind = "system"
	KindUnavailable PayloadKind = "unavailable"
	// KindKeyShare carries a group ConversationKey over a pairwise session.
	// It is consumed by the keyring and never shown in a timeline.
	KindKeyShare PayloadKind = "key_share"
)

// Payload is the content of a message. Exactly one variant is set per
// message; consumers switch on the concrete type.
type Payload interface {
	Kind() PayloadKind
}

type Text struct {
	Body string `json:"body"`
}

type Image struct {
	URL     string `json:"url"`
	Width   int    `json:"width,omitempty"`
	Height  int    `json:"height,omitempty"`
	Caption string `json:"caption,omitempty"`
}

type Video struct {
	URL             string `json:"url"`
	DurationSeconds int    `json:"duration_seconds,omitempty"`
	Caption         string `json:"caption,omitempty"`
}

type Audio struct {
	URL             string `json:"url"`
	DurationSeconds int    `json:"duration_seconds,omitempty"`
}

// Location is a pinned place, or a live share when LiveUntil is set.
type Location struct {
	Latitude  float64    `json:"latitude"`
	Longitude float64    `json:"longitude"`
	Label     string     `json:"label,omitempty"`
	LiveUntil *time.Time `json:"live_until,omitempty"`
}

type CallKind string

const (
	CallAudio CallKind = "audio"
	CallVideo CallKind = "video"
)

type Call struct {
	CallKind        CallKind `json:"call_kind"`
	DurationSeconds int      `json:"duration_seconds,omitempty"`
	Missed          bool     `json:"missed,omitempty"`
}

// System is a notice generated by the service (member joined, key rotated).
type System struct {
	Event string `json:"event"`
	Text  string `json:"text,omitempty"`
}

// Unavailable stands in for a message that could not be decrypted.
type Unavailable struct {
	Reason string `json:"reason"`
}

// KeyShare delivers one ConversationKey version to a group member.
type KeyShare struct {
	Key ConversationKey `json:"key"`
}

func (Text) Kind() PayloadKind        { return KindText }
func (Image) Kind() PayloadKind       { return KindImage }
func (Video) Kind() PayloadKind       { return KindVideo }
func (Audio) Kind() PayloadKind       { return KindAudio }
func (Location) Kind() PayloadKind    { return KindLocation }
func (Call) Kind() PayloadKind        { return KindCall }
func (System) Kind() PayloadKind      { return KindSystem }
func (Unavailable) Kind() PayloadKind { return KindUnavailable }
func (KeyShare) Kind() PayloadKind    { return KindKeyShare }
