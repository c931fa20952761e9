// Package delivery decides which source items are new and announces them.
//
// The announcement channel's own history is the cursor: every post carries a
// Tag, and the newest scheduled Tag for a source's event type marks where the
// previous run stopped.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// DateLayout is the calendar-day format used by date cursors.
const DateLayout = "2006-01-02"

// EventNotification tags plain notification posts.
const EventNotification = "notification"

// Payload keys carried in a post's metadata.
const (
	PayloadID      = "id"
	PayloadDate    = "azure_date_published"
	PayloadTrigger = "action_trigger"
)

// Trigger records why a post was made. Only scheduled posts move the cursor.
type Trigger string

const (
	TriggerScheduled Trigger = "scheduled"
	TriggerRequested Trigger = "requested"
)

// ErrNoCursor is returned for date-ordered sources when no previous delivery
// exists and no date was given.
var ErrNoCursor = errors.New("no previous delivery found; pass a date to start from")

// ErrNotJournaled means the sink accepted a post but the local journal could
// not record it. The post counts as delivered.
var ErrNotJournaled = errors.New("posted but not journaled")

// Cursor is the id or calendar date of the last scheduled delivery.
// The zero value means nothing has been delivered yet.
type Cursor struct {
	ID   string
	Date string
}

func (c Cursor) IsZero() bool {
	return c.ID == "" && c.Date == ""
}

func (c Cursor) String() string {
	switch {
	case c.ID != "":
		return c.ID
	case c.Date != "":
		return c.Date
	default:
		return "none"
	}
}

// Tag is attached to every post so later runs can recognise it.
type Tag struct {
	EventType string
	ID        string
	Date      string
	Trigger   Trigger
}

// Payload returns the metadata payload for the tag. Date tags carry
// azure_date_published instead of id.
func (t Tag) Payload() map[string]any {
	p := map[string]any{PayloadTrigger: string(t.Trigger)}
	if t.Date != "" {
		p[PayloadDate] = t.Date
	} else {
		p[PayloadID] = t.ID
	}
	return p
}

// Cursor returns the position this tag marks.
func (t Tag) Cursor() Cursor {
	return Cursor{ID: t.ID, Date: t.Date}
}

// TagFromPayload rebuilds a Tag from stored metadata. Non-string values are
// ignored.
func TagFromPayload(eventType string, payload map[string]any) Tag {
	str := func(key string) string {
		v, _ := payload[key].(string)
		return strings.TrimSpace(v)
	}
	return Tag{
		EventType: eventType,
		ID:        str(PayloadID),
		Date:      str(PayloadDate),
		Trigger:   Trigger(str(PayloadTrigger)),
	}
}

// FindCursor scans tags newest-first and returns the position of the first
// scheduled tag for eventType. Requested tags never count, even when newer.
// The first scheduled tag wins even if its payload is empty, in which case
// the channel has no cursor.
func FindCursor(tags []Tag, eventType string) Cursor {
	for _, t := range tags {
		if t.EventType == eventType && t.Trigger == TriggerScheduled {
			return t.Cursor()
		}
	}
	return Cursor{}
}

// Link is rendered as a button under the message.
type Link struct {
	Label string
	URL   string
}

// Message is a formatted announcement.
type Message struct {
	Title string
	Body  string
	Links []Link
}

// Sections splits the body on blank lines.
func (m Message) Sections() []string {
	var sections []string
	var cur []string
	flush := func() {
		if len(cur) > 0 {
			sections = append(sections, strings.Join(cur, "\n"))
			cur = nil
		}
	}
	for _, line := range strings.Split(m.Body, "\n") {
		if strings.TrimSpace(line) == "" {
			flush()
			continue
		}
		cur = append(cur, strings.TrimRight(line, " \t\r"))
	}
	flush()
	return sections
}

// Summarizer turns item text into an announcement body.
type Summarizer interface {
	Summarize(ctx context.Context, instruction, text string) (string, error)
}

// Sink posts a tagged message to a channel. A nil error means the transport
// accepted the message.
type Sink interface {
	Post(ctx context.Context, channel string, msg Message, tag Tag) error
}

// CursorStore resolves the last scheduled delivery for a channel and event type.
type CursorStore interface {
	LastCursor(ctx context.Context, channel, eventType string) (Cursor, error)
}

// Recorder is told about every accepted post.
type Recorder interface {
	Record(ctx context.Context, channel string, tag Tag) error
}

// PartialError reports a run that stopped part way through delivery.
type PartialError struct {
	Delivered int
	Remaining int
	ItemID    string
	Err       error
}

func (e *PartialError) Error() string {
	return fmt.Sprintf("delivered %d, %d remaining, failed at %s: %v", e.Delivered, e.Remaining, e.ItemID, e.Err)
}

func (e *PartialError) Unwrap() error {
	return e.Err
}
