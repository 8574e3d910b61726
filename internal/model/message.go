package model

import "time"

// Participant is a resolved communication identity scoped to a single source.
// The same address appearing in two different sources yields two distinct
// Participant records; cross-source merging is an explicit downstream step,
// never done silently here.
type Participant struct {
	ID       string `json:"id"`
	SourceID string `json:"source_id"`
	// Raw is the identifier exactly as it appeared in the source.
	Raw string `json:"raw"`
	// Resolved is the normalized identifier (case-folded address or
	// digit-normalized phone number) used for graph aggregation.
	Resolved string `json:"resolved"`
	Kind     string `json:"kind"` // "email" or "phone"
}

// Message is the canonical, format-independent representation of one
// communication unit. The set of Messages for a source is append-only once
// extraction completes; no field is ever edited afterwards.
type Message struct {
	ID       string `json:"id"`
	SourceID string `json:"source_id"`
	// Sender and Recipients hold resolved participant identifiers.
	// Recipient order is preserved from the source.
	Sender     string   `json:"sender"`
	Recipients []string `json:"recipients"`
	// SentAt is nil when the source could not supply a parseable timestamp.
	// An unknown timestamp is recorded as unknown, never defaulted.
	SentAt *time.Time `json:"sent_at,omitempty"`
	Body   string     `json:"body"`
	// RawHeader preserves the source's header material verbatim for audit,
	// including any trailing bytes a binary format did not account for.
	RawHeader []byte `json:"raw_header,omitempty"`
	// Deleted is true when the source system's own metadata marked the
	// message as deleted or recovered from slack space.
	Deleted bool `json:"deleted"`
}

// Annotation is the text-analysis collaborator's output for one message.
type Annotation struct {
	// Sentiment is in [-1, 1].
	Sentiment float64  `json:"sentiment"`
	Entities  []string `json:"entities,omitempty"`
	Model     string   `json:"model,omitempty"`
}

// AnnotatedMessage pairs a Message with its optional annotation. A nil
// Annotation means the collaborator never produced one for this message;
// that is distinct from an annotation with a neutral (zero) score.
type AnnotatedMessage struct {
	Message
	Annotation *Annotation `json:"annotation,omitempty"`
}

// Annotated reports whether the message carries a collaborator annotation.
func (m AnnotatedMessage) Annotated() bool {
	return m.Annotation != nil
}

// MessageFilter narrows a message query on the store's query surface.
// Zero-valued fields are ignored.
type MessageFilter struct {
	After        *time.Time `json:"after,omitempty"`
	Before       *time.Time `json:"before,omitempty"`
	Participant  string     `json:"participant,omitempty"`
	TextContains string     `json:"text_contains,omitempty"`
	MinSentiment *float64   `json:"min_sentiment,omitempty"`
	MaxSentiment *float64   `json:"max_sentiment,omitempty"`
	Limit        int        `json:"limit,omitempty"`
	Offset       int        `json:"offset,omitempty"`
}
