// Package arxiv provides the literature search capability, backed by
// the arXiv Atom query API.
package arxiv

import (
	"context"
	"encoding/xml"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/parley-agent/parley/internal/httpkit"
)

const queryURL = "https://export.arxiv.org/api/query"

// Paper is a single arXiv search hit.
type Paper struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Summary   string    `json:"summary"`
	Authors   []string  `json:"authors"`
	Published time.Time `json:"published"`
	URL       string    `json:"url"`
}

// Client queries the arXiv API.
type Client struct {
	httpClient *http.Client
	baseURL    string
	maxResults int
}

// NewClient creates an arXiv client. maxResults caps how many papers a
// single query returns (default 5; the API itself allows far more but
// the reasoning model only needs the head of the ranking).
func NewClient(maxResults int) *Client {
	if maxResults <= 0 {
		maxResults = 5
	}
	return &Client{
		httpClient: httpkit.NewClient(
			httpkit.WithTimeout(20 * time.Second),
		),
		baseURL:    queryURL,
		maxResults: maxResults,
	}
}

// atom mirrors the subset of the Atom feed we consume.
type atomFeed struct {
	XMLName xml.Name    `xml:"feed"`
	Entries []atomEntry `xml:"entry"`
}

type atomEntry struct {
	ID        string `xml:"id"`
	Title     string `xml:"title"`
	Summary   string `xml:"summary"`
	Published string `xml:"published"`
	Authors   []struct {
		Name string `xml:"name"`
	} `xml:"author"`
	Links []struct {
		Href string `xml:"href,attr"`
		Rel  string `xml:"rel,attr"`
	} `xml:"link"`
}

// Search runs a free-text query against arXiv and returns papers in
// the API's relevance order.
func (c *Client) Search(ctx context.Context, query string) ([]Paper, error) {
	params := url.Values{
		"search_query": {"all:" + query},
		"start":        {"0"},
		"max_results":  {strconv.Itoa(c.maxResults)},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("arxiv: build request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("arxiv: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body := httpkit.ReadErrorBody(resp.Body, 512)
		return nil, fmt.Errorf("arxiv: HTTP %d: %s", resp.StatusCode, body)
	}

	var feed atomFeed
	if err := xml.NewDecoder(resp.Body).Decode(&feed); err != nil {
		return nil, fmt.Errorf("arxiv: decode feed: %w", err)
	}

	papers := make([]Paper, 0, len(feed.Entries))
	for _, e := range feed.Entries {
		p := Paper{
			ID:      e.ID,
			Title:   collapseWhitespace(e.Title),
			Summary: collapseWhitespace(e.Summary),
			URL:     e.ID,
		}
		for _, a := range e.Authors {
			p.Authors = append(p.Authors, a.Name)
		}
		for _, l := range e.Links {
			if l.Rel == "alternate" && l.Href != "" {
				p.URL = l.Href
			}
		}
		if t, err := time.Parse(time.RFC3339, e.Published); err == nil {
			p.Published = t
		}
		papers = append(papers, p)
	}

	return papers, nil
}

// collapseWhitespace flattens the hard-wrapped text arXiv returns.
func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// FormatPapers builds a ranked listing for the reasoning model.
func FormatPapers(papers []Paper) string {
	if len(papers) == 0 {
		return "No papers found."
	}

	var b strings.Builder
	for i, p := range papers {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "%d. %s", i+1, p.Title)
		if len(p.Authors) > 0 {
			fmt.Fprintf(&b, "\n   Authors: %s", strings.Join(p.Authors, ", "))
		}
		if !p.Published.IsZero() {
			fmt.Fprintf(&b, "\n   Published: %s", p.Published.Format("2006-01-02"))
		}
		fmt.Fprintf(&b, "\n   %s", p.URL)
		if p.Summary != "" {
			summary := p.Summary
			if len(summary) > 500 {
				summary = summary[:500] + "..."
			}
			fmt.Fprintf(&b, "\n   %s", summary)
		}
	}
	return b.String()
}
