package source

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/mmcdole/gofeed"

	"github.com/ppiankov/postcast/internal/apierr"
)

const (
	feedSourceName   = "feed"
	feedFetchTimeout = 30 * time.Second
	feedUserAgent    = "Mozilla/5.0 (compatible; postcast/1.0; +https://github.com/ppiankov/postcast)"
)

// FeedSource reads entries from a vendor RSS/Atom feed. Entry bodies are
// usually teasers, so Text scrapes the linked page.
type FeedSource struct {
	url       string
	selector  string
	dropLines map[string]bool
	client    *http.Client
}

// NewFeed creates a feed source. selector narrows each entry's page to the
// article body; dropLines are boilerplate lines removed from the result.
func NewFeed(feedURL, selector string, dropLines []string) (*FeedSource, error) {
	feedURL = strings.TrimSpace(feedURL)
	if feedURL == "" {
		return nil, errors.New("feed: URL is required")
	}

	drop := make(map[string]bool, len(dropLines))
	for _, l := range dropLines {
		if l = strings.TrimSpace(l); l != "" {
			drop[l] = true
		}
	}

	return &FeedSource{
		url:       feedURL,
		selector:  strings.TrimSpace(selector),
		dropLines: drop,
		client: &http.Client{
			Timeout:   feedFetchTimeout,
			Transport: &feedTransport{base: http.DefaultTransport},
		},
	}, nil
}

func (fs *FeedSource) Name() string {
	return feedSourceName
}

func (fs *FeedSource) EventType() string {
	return EventVendorBlogpost
}

func (fs *FeedSource) Ordering() Ordering {
	return ByDate
}

// feedTransport injects a User-Agent header into every request.
type feedTransport struct {
	base http.RoundTripper
}

func (t *feedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req.Header.Set("User-Agent", feedUserAgent)
	return t.base.RoundTrip(req)
}

func (fs *FeedSource) FetchRecent(ctx context.Context, limit int) ([]Item, error) {
	if limit < 1 {
		return nil, fmt.Errorf("feed: limit must be at least 1, got %d", limit)
	}
	items, err := fs.fetchAll(ctx)
	if err != nil {
		return nil, err
	}
	if len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

// Fetch looks the entry up in the current feed document; feeds have no
// per-entry endpoint.
func (fs *FeedSource) Fetch(ctx context.Context, id string) (Item, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return Item{}, errors.New("feed: id is required")
	}
	items, err := fs.fetchAll(ctx)
	if err != nil {
		return Item{}, err
	}
	for _, it := range items {
		if it.ID == id || it.Link == id {
			return it, nil
		}
	}
	return Item{}, fmt.Errorf("feed: entry %s: %w", id, ErrNotFound)
}

func (fs *FeedSource) fetchAll(ctx context.Context) ([]Item, error) {
	ctx, cancel := context.WithTimeout(ctx, feedFetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fs.url, nil)
	if err != nil {
		return nil, fmt.Errorf("feed: build request: %w", err)
	}
	resp, err := fs.client.Do(req)
	if err != nil {
		return nil, apierr.Wrap(feedSourceName, "fetch "+fs.url, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if !apierr.IsSuccess(resp.StatusCode) {
		return nil, apierr.FromStatus(feedSourceName, "fetch "+fs.url, resp.StatusCode, resp.Body)
	}

	feed, err := gofeed.NewParser().Parse(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("feed: parse %s: %w", fs.url, err)
	}

	return itemsFromFeed(feed), nil
}

// itemsFromFeed converts entries newest-first. Entries without any usable
// timestamp cannot be placed on a day and are skipped.
func itemsFromFeed(feed *gofeed.Feed) []Item {
	items := make([]Item, 0, len(feed.Items))
	for _, entry := range feed.Items {
		if entry == nil {
			continue
		}
		publishedAt := itemPublishedTime(entry)
		if publishedAt.IsZero() {
			continue
		}
		id := itemID(entry)
		if id == "" {
			continue
		}

		items = append(items, Item{
			ID:          id,
			Title:       orNA(strings.TrimSpace(entry.Title)),
			Link:        orNA(strings.TrimSpace(entry.Link)),
			Author:      orNA(itemAuthor(entry)),
			Category:    orNA(strings.Join(entry.Categories, ", ")),
			PublishedAt: publishedAt,
			Body:        itemBody(entry),
		})
	}

	sort.SliceStable(items, func(i, j int) bool {
		return items[i].PublishedAt.After(items[j].PublishedAt)
	})
	return items
}

func itemPublishedTime(item *gofeed.Item) time.Time {
	if item.PublishedParsed != nil {
		return *item.PublishedParsed
	}
	if item.UpdatedParsed != nil {
		return *item.UpdatedParsed
	}
	return time.Time{}
}

func itemID(item *gofeed.Item) string {
	if item.GUID != "" {
		return strings.TrimSpace(item.GUID)
	}
	return strings.TrimSpace(item.Link)
}

func itemAuthor(item *gofeed.Item) string {
	if item.Author != nil && item.Author.Name != "" {
		return item.Author.Name
	}
	if len(item.Authors) > 0 && item.Authors[0] != nil {
		return item.Authors[0].Name
	}
	return ""
}

func itemBody(item *gofeed.Item) string {
	if item.Content != "" {
		return item.Content
	}
	return item.Description
}

// Text fetches the entry's page and extracts the article text. When the
// page has no element matching the selector, the feed's own body is used.
func (fs *FeedSource) Text(ctx context.Context, item Item) (string, error) {
	if fs.selector != "" && item.Link != "" && item.Link != NotAvailable {
		text, err := fs.pageText(ctx, item.Link)
		if err != nil {
			return "", err
		}
		if text != "" {
			return text, nil
		}
	}

	text, err := htmlText(item.Body)
	if err != nil {
		return "", fmt.Errorf("feed: extract entry %s: %w", item.ID, err)
	}
	return fs.cleanLines(text), nil
}

func (fs *FeedSource) pageText(ctx context.Context, link string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, feedFetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, link, nil)
	if err != nil {
		return "", fmt.Errorf("feed: build page request: %w", err)
	}
	resp, err := fs.client.Do(req)
	if err != nil {
		return "", apierr.Wrap(feedSourceName, "fetch page "+link, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if !apierr.IsSuccess(resp.StatusCode) {
		return "", apierr.FromStatus(feedSourceName, "fetch page "+link, resp.StatusCode, resp.Body)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return "", fmt.Errorf("feed: parse page %s: %w", link, err)
	}

	sel := doc.Find(fs.selector).First()
	if sel.Length() == 0 {
		return "", nil
	}
	sel.Find("ul").Remove()

	return fs.cleanLines(nodeText(sel)), nil
}

// cleanLines drops blank and boilerplate lines.
func (fs *FeedSource) cleanLines(text string) string {
	var kept []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || fs.dropLines[line] {
			continue
		}
		kept = append(kept, line)
	}
	return strings.Join(kept, "\n")
}

// htmlText flattens an HTML fragment to text with one line per block.
func htmlText(fragment string) (string, error) {
	if strings.TrimSpace(fragment) == "" {
		return "", nil
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
	if err != nil {
		return "", err
	}
	return nodeText(doc.Selection), nil
}

// nodeText joins every text node under sel in document order, one per line.
func nodeText(sel *goquery.Selection) string {
	var b strings.Builder
	var walk func(s *goquery.Selection)
	walk = func(s *goquery.Selection) {
		s.Contents().Each(func(_ int, c *goquery.Selection) {
			switch goquery.NodeName(c) {
			case "#text":
				b.WriteString(c.Text())
				b.WriteByte('\n')
			case "script", "style", "noscript":
			default:
				walk(c)
			}
		})
	}
	walk(sel)
	return b.String()
}
