package ctag

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"github.com/rs/zerolog"
)

const (
	searchPath = "/wiki/rest/api/content/search"
	labelPath  = "/wiki/rest/api/content/%s/label"
	expandSpec = "space,metadata.labels,version"
)

// ConfluenceClient implements Transport over the Confluence Cloud REST API.
type ConfluenceClient struct {
	baseURL  string
	username string
	token    string
	pageSize int
	client   *http.Client
	log      zerolog.Logger
}

var _ Transport = (*ConfluenceClient)(nil)

func NewConfluenceClient(cfg *Config) (*ConfluenceClient, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &ConfluenceClient{
		baseURL:  strings.TrimRight(cfg.URL, "/"),
		username: cfg.Username,
		token:    cfg.Token,
		pageSize: cfg.PageSize,
		client:   &http.Client{Timeout: cfg.Timeout},
		log:      newLogger("confluence"),
	}, nil
}

type contentLinks struct {
	WebUI string `json:"webui"`
	Base  string `json:"base"`
	Next  string `json:"next"`
}

type labelList struct {
	Results []struct {
		Prefix string `json:"prefix"`
		Name   string `json:"name"`
	} `json:"results"`
	Size  int          `json:"size"`
	Links contentLinks `json:"_links"`
}

func (l labelList) tags() TagSet {
	set := make(TagSet, len(l.Results))
	for _, label := range l.Results {
		set.Add(label.Name)
	}
	return set
}

type contentItem struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Space struct {
		Key string `json:"key"`
	} `json:"space"`
	Metadata struct {
		Labels labelList `json:"labels"`
	} `json:"metadata"`
	Links contentLinks `json:"_links"`

	// The generic search endpoint nests the page under "content".
	Content               *contentItem `json:"content"`
	ResultGlobalContainer struct {
		Title string `json:"title"`
	} `json:"resultGlobalContainer"`
}

type searchResponse struct {
	Results []contentItem `json:"results"`
	Start   int           `json:"start"`
	Limit   int           `json:"limit"`
	Size    int           `json:"size"`
	Links   contentLinks  `json:"_links"`
}

// Search runs one page of a CQL query. The cursor is the start offset of the
// next page; an empty cursor starts at zero.
func (c *ConfluenceClient) Search(ctx context.Context, query string, cursor string) (SearchPage, error) {
	start := 0
	if cursor != "" {
		n, err := strconv.Atoi(cursor)
		if err != nil || n < 0 {
			return SearchPage{}, &TransportError{Op: "search", Err: fmt.Errorf("invalid cursor %q", cursor)}
		}
		start = n
	}

	params := map[string]string{
		"cql":    query,
		"start":  strconv.Itoa(start),
		"limit":  strconv.Itoa(c.pageSize),
		"expand": expandSpec,
	}

	var response searchResponse
	if err := c.doJSON(ctx, "search", http.MethodGet, searchPath, params, nil, &response); err != nil {
		var transportErr *TransportError
		if errors.As(err, &transportErr) && transportErr.Status == http.StatusBadRequest {
			return SearchPage{}, &QueryError{Query: query, Err: err}
		}
		return SearchPage{}, err
	}

	page := SearchPage{Items: make([]PageRef, 0, len(response.Results))}
	for _, item := range response.Results {
		ref, ok := c.pageRef(item, response.Links.Base)
		if !ok {
			c.log.Warn().Str("title", item.Title).Msg("skipping search result without an id")
			continue
		}
		page.Items = append(page.Items, ref)
	}

	if response.Links.Next != "" || (len(response.Results) > 0 && len(response.Results) >= c.pageSize) {
		page.Next = strconv.Itoa(start + len(response.Results))
	}

	c.log.Debug().Str("cql", query).Int("start", start).Int("results", len(page.Items)).Msg("search page")
	return page, nil
}

func (c *ConfluenceClient) pageRef(item contentItem, base string) (PageRef, bool) {
	title := item.Title
	if item.Content != nil {
		if title == "" {
			title = item.Content.Title
		}
		space := item.Content.Space.Key
		if space == "" {
			space = item.ResultGlobalContainer.Title
		}
		nested := *item.Content
		nested.Title = title
		nested.Space.Key = space
		if nested.Links.WebUI == "" {
			nested.Links.WebUI = item.Links.WebUI
		}
		item = nested
	}
	if item.ID == "" {
		return PageRef{}, false
	}

	if base == "" {
		base = c.baseURL + "/wiki"
	}
	ref := PageRef{
		ID:    item.ID,
		Title: sanitizeText(item.Title),
		Space: item.Space.Key,
		Tags:  item.Metadata.Labels.tags(),
	}
	if item.Links.WebUI != "" {
		ref.URL = base + item.Links.WebUI
	}
	return ref, true
}

// GetTags returns every label on a page, following label pagination.
func (c *ConfluenceClient) GetTags(ctx context.Context, pageID string) (TagSet, error) {
	tags := NewTagSet()
	path := fmt.Sprintf(labelPath, url.PathEscape(pageID))
	start := 0

	for {
		var labels labelList
		params := map[string]string{
			"start": strconv.Itoa(start),
			"limit": strconv.Itoa(c.pageSize),
		}
		if err := c.doJSON(ctx, "get labels", http.MethodGet, path, params, nil, &labels); err != nil {
			return nil, err
		}
		for tag := range labels.tags() {
			tags.Add(tag)
		}
		if len(labels.Results) == 0 || (labels.Links.Next == "" && len(labels.Results) < c.pageSize) {
			return tags, nil
		}
		start += len(labels.Results)
	}
}

type labelBody struct {
	Prefix string `json:"prefix"`
	Name   string `json:"name"`
}

// SetTags makes the page's labels equal to tags. Missing labels are added in
// one request and extra labels are removed one at a time.
func (c *ConfluenceClient) SetTags(ctx context.Context, pageID string, tags TagSet) error {
	current, err := c.GetTags(ctx, pageID)
	if err != nil {
		return err
	}

	path := fmt.Sprintf(labelPath, url.PathEscape(pageID))

	if add := tags.Minus(current); len(add) > 0 {
		body := make([]labelBody, 0, len(add))
		for _, name := range add.Sorted() {
			body = append(body, labelBody{Prefix: "global", Name: name})
		}
		if err := c.doJSON(ctx, "add labels", http.MethodPost, path, nil, body, nil); err != nil {
			return err
		}
	}

	for _, name := range current.Minus(tags).Sorted() {
		if err := c.doJSON(ctx, "remove label", http.MethodDelete, path, map[string]string{"name": name}, nil, nil); err != nil {
			return err
		}
	}
	return nil
}

func (c *ConfluenceClient) doJSON(ctx context.Context, op, method, path string, query map[string]string, body any, out any) error {
	parsed, err := url.Parse(c.baseURL + path)
	if err != nil {
		return &TransportError{Op: op, Err: err}
	}
	if len(query) > 0 {
		values := parsed.Query()
		for key, value := range query {
			values.Set(key, value)
		}
		parsed.RawQuery = values.Encode()
	}

	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return &TransportError{Op: op, Err: err}
		}
		reader = bytes.NewReader(encoded)
	}

	request, err := http.NewRequestWithContext(ctx, method, parsed.String(), reader)
	if err != nil {
		return &TransportError{Op: op, Err: err}
	}
	request.SetBasicAuth(c.username, c.token)
	request.Header.Set("Accept", "application/json")
	if body != nil {
		request.Header.Set("Content-Type", "application/json")
	}

	response, err := c.client.Do(request)
	if err != nil {
		return &TransportError{Op: op, Err: err}
	}
	defer response.Body.Close()

	if response.StatusCode < 200 || response.StatusCode >= 300 {
		payload, _ := io.ReadAll(io.LimitReader(response.Body, 4096))
		return &TransportError{Op: op, Status: response.StatusCode, Err: decodeRemoteError(payload)}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(response.Body).Decode(out); err != nil {
		return &TransportError{Op: op, Status: response.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

func decodeRemoteError(payload []byte) error {
	var wrapper struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(payload, &wrapper); err == nil && strings.TrimSpace(wrapper.Message) != "" {
		return errors.New(strings.TrimSpace(wrapper.Message))
	}
	text := strings.TrimSpace(string(payload))
	if text == "" {
		text = "empty response"
	}
	return errors.New(text)
}

var (
	highlightMarkers = regexp.MustCompile(`@@@\w+@@@`)
	htmlTags         = regexp.MustCompile(`<[^>]+>`)
)

// sanitizeText strips search highlight markers, HTML entities, tags and
// control characters from text returned by the search API.
func sanitizeText(text string) string {
	text = highlightMarkers.ReplaceAllString(text, "")
	text = html.UnescapeString(text)
	text = htmlTags.ReplaceAllString(text, "")
	return strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, text)
}
