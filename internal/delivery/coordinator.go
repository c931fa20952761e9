package delivery

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/ppiankov/postcast/internal/logger"
	"github.com/ppiankov/postcast/internal/privacy"
	"github.com/ppiankov/postcast/internal/source"
)

// State is a step of a delivery run.
type State string

const (
	StateInit           State = "INIT"
	StateCursorResolved State = "CURSOR_RESOLVED"
	StateItemsFetched   State = "ITEMS_FETCHED"
	StateNothingNew     State = "NOTHING_NEW"
	StateDelivering     State = "DELIVERING"
	StateDone           State = "DONE"
)

// FirstRun decides what an id-ordered source announces when the channel
// has no cursor yet.
type FirstRun string

const (
	FirstRunLatest   FirstRun = "latest"
	FirstRunAll      FirstRun = "all"
	FirstRunBaseline FirstRun = "baseline"
)

// Options configures a Coordinator.
type Options struct {
	Channel     string
	Instruction string
	PageSize    int
	FirstRun    FirstRun
	Location    *time.Location
	Redact      []*regexp.Regexp
	Now         func() time.Time
}

// Result describes what a run did.
type Result struct {
	State     State
	Cursor    Cursor
	Selected  int
	Delivered int
	ItemIDs   []string // ids or dates posted, in posting order
}

// Coordinator runs fetch, summarize and post for one source and channel.
type Coordinator struct {
	src      source.Source
	sum      Summarizer
	sink     Sink
	cursors  CursorStore
	recorder Recorder
	opts     Options
	log      *logger.Logger
}

// New creates a coordinator. recorder may be nil.
func New(src source.Source, sum Summarizer, sink Sink, cursors CursorStore, recorder Recorder, opts Options, log *logger.Logger) (*Coordinator, error) {
	if src == nil || sum == nil || sink == nil || cursors == nil {
		return nil, errors.New("delivery: source, summarizer, sink and cursor store are required")
	}
	if strings.TrimSpace(opts.Channel) == "" {
		return nil, errors.New("delivery: channel is required")
	}
	if opts.PageSize < 1 {
		return nil, fmt.Errorf("delivery: page size must be at least 1, got %d", opts.PageSize)
	}
	if opts.FirstRun == "" {
		opts.FirstRun = FirstRunLatest
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if log == nil {
		log = logger.Discard()
	}
	return &Coordinator{
		src:      src,
		sum:      sum,
		sink:     sink,
		cursors:  cursors,
		recorder: recorder,
		opts:     opts,
		log:      log.With("source", src.Name(), "channel", opts.Channel),
	}, nil
}

func (c *Coordinator) enter(res *Result, s State, args ...any) {
	res.State = s
	c.log.Info("state "+string(s), args...)
}

// Run announces every item newer than the channel's cursor. dateOverride,
// when set, replaces the resolved cursor for date-ordered sources.
func (c *Coordinator) Run(ctx context.Context, dateOverride string) (Result, error) {
	res := Result{}
	c.enter(&res, StateInit, "event_type", c.src.EventType(), "ordering", c.src.Ordering().String())

	cursor, err := c.resolveCursor(ctx, dateOverride)
	if err != nil {
		return res, err
	}
	res.Cursor = cursor
	c.enter(&res, StateCursorResolved, "cursor", cursor.String())

	if c.src.Ordering() == source.ByDate && cursor.Date == "" {
		return res, ErrNoCursor
	}

	items, err := c.src.FetchRecent(ctx, c.opts.PageSize)
	if err != nil {
		return res, fmt.Errorf("fetch %s: %w", c.src.Name(), err)
	}
	c.enter(&res, StateItemsFetched, "count", len(items))

	if c.src.Ordering() == source.ByDate {
		return c.runByDate(ctx, res, items)
	}
	return c.runByID(ctx, res, items)
}

func (c *Coordinator) resolveCursor(ctx context.Context, dateOverride string) (Cursor, error) {
	if dateOverride != "" {
		if c.src.Ordering() == source.ByDate {
			if _, err := time.Parse(DateLayout, dateOverride); err != nil {
				return Cursor{}, fmt.Errorf("date override %q: %w", dateOverride, err)
			}
			c.log.Info("using date override", "date", dateOverride)
			return Cursor{Date: dateOverride}, nil
		}
		c.log.Warn("date override ignored for id-ordered source", "date", dateOverride)
	}

	cursor, err := c.cursors.LastCursor(ctx, c.opts.Channel, c.src.EventType())
	if err != nil {
		return Cursor{}, fmt.Errorf("resolve cursor: %w", err)
	}
	return cursor, nil
}

func (c *Coordinator) runByID(ctx context.Context, res Result, items []source.Item) (Result, error) {
	var selected []source.Item
	switch {
	case res.Cursor.ID == "" && len(items) == 0:
	case res.Cursor.ID == "":
		c.log.Info("no previous delivery", "first_run", string(c.opts.FirstRun))
		switch c.opts.FirstRun {
		case FirstRunAll:
			selected = items
		case FirstRunBaseline:
			return c.baseline(ctx, res, items[0])
		default:
			selected = items[:1]
		}
	default:
		var stale bool
		selected, stale = SelectNewer(items, res.Cursor.ID)
		if stale && len(items) > 0 {
			c.log.Warn("cursor not on the fetched page, treating every item as new",
				"cursor", res.Cursor.ID, "page_size", c.opts.PageSize)
		}
	}

	res.Selected = len(selected)
	if len(selected) == 0 {
		c.enter(&res, StateNothingNew)
		return res, nil
	}

	c.enter(&res, StateDelivering, "selected", len(selected))
	for i := len(selected) - 1; i >= 0; i-- {
		item := selected[i]
		tag := Tag{EventType: c.src.EventType(), ID: item.ID, Trigger: TriggerScheduled}
		if err := c.deliverItem(ctx, item, tag); err != nil {
			if errors.Is(err, ErrNotJournaled) {
				res.Delivered++
				res.ItemIDs = append(res.ItemIDs, item.ID)
			}
			return res, &PartialError{Delivered: res.Delivered, Remaining: len(selected) - res.Delivered, ItemID: item.ID, Err: err}
		}
		res.Delivered++
		res.ItemIDs = append(res.ItemIDs, item.ID)
	}

	c.enter(&res, StateDone, "delivered", res.Delivered)
	return res, nil
}

// runByDate posts only finished days. A day still in progress stays
// unselected until tomorrow so entries published later that day are not
// left behind the cursor.
func (c *Coordinator) runByDate(ctx context.Context, res Result, items []source.Item) (Result, error) {
	today := c.opts.Now().In(c.opts.Location).Format(DateLayout)
	all := GroupByDate(items, c.opts.Location)
	groups := SelectDatesBetween(all, res.Cursor.Date, today)
	if len(all) > 0 && all[len(all)-1].Date >= today && today > res.Cursor.Date {
		c.log.Info("holding back entries from today until the day is over", "date", today)
	}
	if len(groups) > 0 && len(items) >= c.opts.PageSize && groups[0].Date == all[0].Date {
		c.log.Warn("page does not reach back to the cursor, the oldest date may be incomplete",
			"cursor", res.Cursor.Date, "oldest_date", groups[0].Date, "page_size", c.opts.PageSize)
	}
	res.Selected = len(groups)
	if len(groups) == 0 {
		c.enter(&res, StateNothingNew)
		return res, nil
	}

	c.enter(&res, StateDelivering, "dates", len(groups))
	for _, g := range groups {
		tag := Tag{EventType: c.src.EventType(), Date: g.Date, Trigger: TriggerScheduled}
		if err := c.deliverGroup(ctx, g, tag); err != nil {
			if errors.Is(err, ErrNotJournaled) {
				res.Delivered++
				res.ItemIDs = append(res.ItemIDs, g.Date)
			}
			return res, &PartialError{Delivered: res.Delivered, Remaining: len(groups) - res.Delivered, ItemID: g.Date, Err: err}
		}
		res.Delivered++
		res.ItemIDs = append(res.ItemIDs, g.Date)
	}

	c.enter(&res, StateDone, "delivered", res.Delivered)
	return res, nil
}

// baseline posts a single marker so the next run has a cursor.
func (c *Coordinator) baseline(ctx context.Context, res Result, newest source.Item) (Result, error) {
	c.enter(&res, StateDelivering, "baseline", newest.ID)
	msg := Message{
		Title: "Now tracking " + c.src.Name(),
		Body:  fmt.Sprintf("New posts after %q will be summarized here.", newest.Title),
	}
	if hasLink(newest) {
		msg.Links = []Link{{Label: "Latest post", URL: newest.Link}}
	}
	tag := Tag{EventType: c.src.EventType(), ID: newest.ID, Trigger: TriggerScheduled}
	if err := c.post(ctx, msg, tag); err != nil {
		return res, err
	}
	res.Cursor = tag.Cursor()
	c.enter(&res, StateDone, "delivered", 0)
	return res, nil
}

// Request summarizes and posts one item regardless of the cursor. An empty
// trigger means requested.
func (c *Coordinator) Request(ctx context.Context, id string, trigger Trigger) (Result, error) {
	if trigger == "" {
		trigger = TriggerRequested
	}
	res := Result{}
	c.enter(&res, StateInit, "requested_id", id, "trigger", string(trigger))

	item, err := c.src.Fetch(ctx, id)
	if err != nil {
		return res, fmt.Errorf("fetch %s %s: %w", c.src.Name(), id, err)
	}
	res.Selected = 1
	c.enter(&res, StateItemsFetched, "count", 1)
	c.enter(&res, StateDelivering, "selected", 1)

	tag := Tag{EventType: c.src.EventType(), ID: item.ID, Trigger: trigger}
	if c.src.Ordering() == source.ByDate {
		date := item.PublishedAt.In(c.opts.Location).Format(DateLayout)
		tag = Tag{EventType: c.src.EventType(), Date: date, Trigger: trigger}
		err = c.deliverGroup(ctx, DateGroup{Date: date, Items: []source.Item{item}}, tag)
	} else {
		err = c.deliverItem(ctx, item, tag)
	}
	if err != nil {
		if errors.Is(err, ErrNotJournaled) {
			res.Delivered = 1
			res.ItemIDs = []string{item.ID}
		}
		return res, err
	}

	res.Delivered = 1
	res.ItemIDs = []string{item.ID}
	res.Cursor = tag.Cursor()
	c.enter(&res, StateDone, "delivered", 1)
	return res, nil
}

func (c *Coordinator) summarize(ctx context.Context, item source.Item) (string, error) {
	text, err := c.src.Text(ctx, item)
	if err != nil {
		return "", fmt.Errorf("extract text for %s: %w", item.ID, err)
	}
	if strings.TrimSpace(text) == "" {
		text = item.Title
	}
	text, redacted := privacy.Apply(text, c.opts.Redact)
	if redacted > 0 {
		c.log.Debug("redacted", "item", item.ID, "matches", redacted)
	}

	summary, err := c.sum.Summarize(ctx, c.opts.Instruction, text)
	if err != nil {
		return "", fmt.Errorf("summarize %s: %w", item.ID, err)
	}
	c.log.Debug("summarized", "item", item.ID, "chars", len(summary))
	return summary, nil
}

func (c *Coordinator) deliverItem(ctx context.Context, item source.Item, tag Tag) error {
	summary, err := c.summarize(ctx, item)
	if err != nil {
		return err
	}
	if err := c.post(ctx, itemMessage(item, summary), tag); err != nil {
		return err
	}
	c.log.Info("delivered", "item", item.ID, "title", item.Title)
	return nil
}

func (c *Coordinator) deliverGroup(ctx context.Context, g DateGroup, tag Tag) error {
	summaries := make([]string, len(g.Items))
	for i, item := range g.Items {
		s, err := c.summarize(ctx, item)
		if err != nil {
			return err
		}
		summaries[i] = s
	}
	if err := c.post(ctx, groupMessage(c.src.Name(), g, summaries), tag); err != nil {
		return err
	}
	c.log.Info("delivered", "date", g.Date, "items", len(g.Items))
	return nil
}

// post sends msg and journals it. A journal failure after the sink accepted
// the message is reported as ErrNotJournaled.
func (c *Coordinator) post(ctx context.Context, msg Message, tag Tag) error {
	if err := c.sink.Post(ctx, c.opts.Channel, msg, tag); err != nil {
		return fmt.Errorf("post: %w", err)
	}
	if c.recorder != nil {
		if err := c.recorder.Record(ctx, c.opts.Channel, tag); err != nil {
			return fmt.Errorf("%w: %s: %w", ErrNotJournaled, tag.Cursor(), err)
		}
	}
	return nil
}

func hasLink(item source.Item) bool {
	return item.Link != "" && item.Link != source.NotAvailable
}

func itemMessage(item source.Item, summary string) Message {
	msg := Message{
		Title: item.Title,
		Body:  "*Summary*\n" + summary,
	}
	if hasLink(item) {
		msg.Links = []Link{{Label: "Open blog post", URL: item.Link}}
	}
	return msg
}

func groupMessage(name string, g DateGroup, summaries []string) Message {
	msg := Message{Title: fmt.Sprintf("%s updates for %s", name, g.Date)}
	var b strings.Builder
	for i, item := range g.Items {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "*%s*\n%s", item.Title, summaries[i])
		if hasLink(item) {
			msg.Links = append(msg.Links, Link{Label: item.Title, URL: item.Link})
		}
	}
	msg.Body = b.String()
	return msg
}
