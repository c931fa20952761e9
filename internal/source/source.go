package source

import (
	"context"
	"errors"
	"time"
)

// NotAvailable replaces optional fields an upstream entry did not carry.
const NotAvailable = "N/A"

// Event types a source's deliveries are tagged with.
const (
	EventBlogpostSummary = "blogpost_summary"
	EventVendorBlogpost  = "vendor_blogpost"
)

// ErrNotFound is returned by Fetch when the requested item does not exist.
var ErrNotFound = errors.New("item not found")

// Ordering tells the coordinator how "newer than the cursor" is decided.
type Ordering int

const (
	// ByID sources return a stable newest-first page and the cursor is an item id.
	ByID Ordering = iota
	// ByDate sources are grouped by publish day and the cursor is a calendar date.
	ByDate
)

func (o Ordering) String() string {
	if o == ByDate {
		return "date"
	}
	return "id"
}

// Item is a single unit of content that may be announced.
type Item struct {
	ID          string    // stable identifier, unique within the source
	Title       string    // display title
	Link        string    // canonical "read more" URL
	Author      string    // "N/A" when unknown
	Category    string    // "N/A" when unknown
	PublishedAt time.Time // publish (or last update) time
	Body        string    // raw markup
}

// Source fetches items from a content stream.
type Source interface {
	// Name returns the source identifier (e.g. "confluence").
	Name() string

	// EventType is the tag stamped on scheduled deliveries from this source.
	EventType() string

	// Ordering reports which cursor/selection rule applies.
	Ordering() Ordering

	// FetchRecent returns at most limit items, most recent first.
	FetchRecent(ctx context.Context, limit int) ([]Item, error)

	// Fetch returns a single item by id.
	Fetch(ctx context.Context, id string) (Item, error)

	// Text extracts the plain text handed to the summarizer.
	Text(ctx context.Context, item Item) (string, error)
}

func orNA(s string) string {
	if s == "" {
		return NotAvailable
	}
	return s
}
