package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	md "github.com/JohannesKaufmann/html-to-markdown"

	"github.com/ppiankov/postcast/internal/apierr"
)

const (
	wikiSourceName   = "confluence"
	wikiFetchTimeout = 30 * time.Second
	wikiSearchCQL    = "type in (blogpost) order by created desc"
	wikiExpand       = "body.storage,history"
)

// WikiSource reads blog posts from the Confluence REST API.
type WikiSource struct {
	baseURL  string
	username string
	token    string
	client   *http.Client
	conv     *md.Converter
}

// NewWiki creates a Confluence blog post source.
func NewWiki(baseURL, username, token string) (*WikiSource, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.New("confluence: base URL is required")
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("confluence: parse base URL: %w", err)
	}
	return &WikiSource{
		baseURL:  baseURL,
		username: username,
		token:    token,
		client:   &http.Client{Timeout: wikiFetchTimeout},
		conv:     md.NewConverter("", true, nil),
	}, nil
}

func (w *WikiSource) Name() string {
	return wikiSourceName
}

func (w *WikiSource) EventType() string {
	return EventBlogpostSummary
}

func (w *WikiSource) Ordering() Ordering {
	return ByID
}

// wikiSearchResponse is the content search envelope.
type wikiSearchResponse struct {
	Results []wikiContent `json:"results"`
	Size    int           `json:"size"`
}

// wikiContent is a blog post as returned with expand=body.storage,history.
type wikiContent struct {
	ID    string `json:"id"`
	Type  string `json:"type"`
	Title string `json:"title"`
	Body  struct {
		Storage struct {
			Value string `json:"value"`
		} `json:"storage"`
	} `json:"body"`
	History struct {
		CreatedDate string `json:"createdDate"`
		CreatedBy   struct {
			DisplayName string `json:"displayName"`
		} `json:"createdBy"`
	} `json:"history"`
	Links struct {
		TinyUI string `json:"tinyui"`
		WebUI  string `json:"webui"`
	} `json:"_links"`
}

func (w *WikiSource) FetchRecent(ctx context.Context, limit int) ([]Item, error) {
	if limit < 1 {
		return nil, fmt.Errorf("confluence: limit must be at least 1, got %d", limit)
	}

	q := url.Values{}
	q.Set("cql", wikiSearchCQL)
	q.Set("limit", strconv.Itoa(limit))
	q.Set("expand", wikiExpand)

	var resp wikiSearchResponse
	if err := w.getJSON(ctx, "search blogposts", "/rest/api/content/search?"+q.Encode(), &resp); err != nil {
		return nil, err
	}

	items := make([]Item, 0, len(resp.Results))
	for _, c := range resp.Results {
		if c.ID == "" {
			continue
		}
		items = append(items, w.toItem(c))
	}
	return items, nil
}

func (w *WikiSource) Fetch(ctx context.Context, id string) (Item, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return Item{}, errors.New("confluence: id is required")
	}

	var c wikiContent
	path := "/rest/api/content/" + url.PathEscape(id) + "?expand=" + url.QueryEscape(wikiExpand)
	if err := w.getJSON(ctx, "get blogpost "+id, path, &c); err != nil {
		var te *apierr.TransportError
		if errors.As(err, &te) && te.StatusCode == http.StatusNotFound {
			return Item{}, fmt.Errorf("confluence: blogpost %s: %w", id, ErrNotFound)
		}
		return Item{}, err
	}
	return w.toItem(c), nil
}

// Text converts the storage-format body to Markdown, which survives the
// trip through the summarizer better than flattened text.
func (w *WikiSource) Text(_ context.Context, item Item) (string, error) {
	if strings.TrimSpace(item.Body) == "" {
		return item.Title, nil
	}
	text, err := w.conv.ConvertString(item.Body)
	if err != nil {
		return "", fmt.Errorf("confluence: convert blogpost %s: %w", item.ID, err)
	}
	return strings.TrimSpace(text), nil
}

func (w *WikiSource) toItem(c wikiContent) Item {
	link := c.Links.TinyUI
	if link == "" {
		link = c.Links.WebUI
	}
	if link != "" {
		link = w.baseURL + link
	}

	var published time.Time
	if c.History.CreatedDate != "" {
		if ts, err := time.Parse(time.RFC3339, c.History.CreatedDate); err == nil {
			published = ts
		}
	}

	return Item{
		ID:          c.ID,
		Title:       orNA(strings.TrimSpace(c.Title)),
		Link:        orNA(link),
		Author:      orNA(c.History.CreatedBy.DisplayName),
		Category:    orNA(c.Type),
		PublishedAt: published,
		Body:        c.Body.Storage.Value,
	}
}

func (w *WikiSource) getJSON(ctx context.Context, op, path string, dst any) error {
	ctx, cancel := context.WithTimeout(ctx, wikiFetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, w.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("confluence: %s: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if w.username != "" || w.token != "" {
		req.SetBasicAuth(w.username, w.token)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return apierr.Wrap(wikiSourceName, op, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if !apierr.IsSuccess(resp.StatusCode) {
		return apierr.FromStatus(wikiSourceName, op, resp.StatusCode, resp.Body)
	}

	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		return fmt.Errorf("confluence: %s: decode response: %w", op, err)
	}
	return nil
}
