package notify

import (
	"context"
	"fmt"
	"io"

	"github.com/ppiankov/postcast/internal/delivery"
)

// Console writes messages as Markdown instead of posting them. Used for dry runs.
type Console struct {
	w io.Writer
}

// NewConsole creates a console sink writing to w.
func NewConsole(w io.Writer) *Console {
	return &Console{w: w}
}

// Post writes msg followed by the tag it would have carried.
func (c *Console) Post(_ context.Context, channel string, msg delivery.Message, tag delivery.Tag) error {
	fmt.Fprintf(c.w, "# %s\n\n", msg.Title)
	fmt.Fprintf(c.w, "_to %s, %s %s (%s)_\n\n", channel, tag.EventType, tag.Cursor(), tag.Trigger)

	for _, section := range msg.Sections() {
		fmt.Fprintf(c.w, "%s\n\n", section)
	}
	for _, l := range msg.Links {
		fmt.Fprintf(c.w, "[%s](%s)\n", l.Label, l.URL)
	}
	if len(msg.Links) > 0 {
		fmt.Fprintln(c.w)
	}
	_, err := fmt.Fprintln(c.w, "---")
	return err
}
