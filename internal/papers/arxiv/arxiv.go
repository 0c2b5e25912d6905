package arxiv

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"paperdesk/internal/papers"
)

const (
	defaultAPIEndpoint = "https://export.arxiv.org/api/query"
	defaultPDFBase     = "https://arxiv.org/pdf"
)

// Client queries the arXiv Atom API and downloads paper PDFs.
type Client struct {
	endpoint   string
	pdfBase    string
	httpClient *http.Client
}

// New builds a Client. endpoint and pdfBase may be empty for the public
// arXiv hosts; tests point them at stub servers.
func New(endpoint, pdfBase string, timeout time.Duration) *Client {
	if endpoint == "" {
		endpoint = defaultAPIEndpoint
	}
	if pdfBase == "" {
		pdfBase = defaultPDFBase
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		endpoint:   endpoint,
		pdfBase:    strings.TrimSuffix(pdfBase, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

type atomFeed struct {
	XMLName xml.Name    `xml:"feed"`
	Entries []atomEntry `xml:"entry"`
}

type atomEntry struct {
	ID      string `xml:"id"`
	Title   string `xml:"title"`
	Summary string `xml:"summary"`
}

// Search queries the index by free text and returns at most limit
// results in the index's own relevance order. An empty slice is a valid
// "nothing matched" outcome, not an error.
func (c *Client) Search(ctx context.Context, query string, limit int) ([]papers.Summary, error) {
	if limit <= 0 {
		limit = 5
	}
	params := url.Values{}
	params.Set("search_query", "all:"+query)
	params.Set("max_results", fmt.Sprintf("%d", limit))
	feed, err := c.query(ctx, params)
	if err != nil {
		return nil, err
	}
	out := make([]papers.Summary, 0, len(feed.Entries))
	for i, e := range feed.Entries {
		if i >= limit {
			break
		}
		out = append(out, e.toSummary())
	}
	return out, nil
}

// Lookup fetches metadata for a single paper id. Returns
// papers.ErrNotFound when the feed carries no entry for it.
func (c *Client) Lookup(ctx context.Context, id string) (papers.Summary, error) {
	params := url.Values{}
	params.Set("id_list", id)
	params.Set("max_results", "1")
	feed, err := c.query(ctx, params)
	if err != nil {
		return papers.Summary{}, err
	}
	if len(feed.Entries) == 0 || strings.TrimSpace(feed.Entries[0].Title) == "" {
		return papers.Summary{}, papers.ErrNotFound
	}
	return feed.Entries[0].toSummary(), nil
}

// FetchPDF downloads the paper's PDF into dir under a path namespaced
// by paper id, and returns the local path with the paper's metadata.
// The caller owns the file and is responsible for removing it.
func (c *Client) FetchPDF(ctx context.Context, id, dir string) (string, papers.Summary, error) {
	sum, err := c.Lookup(ctx, id)
	if err != nil {
		return "", papers.Summary{}, err
	}

	pdfURL := fmt.Sprintf("%s/%s.pdf", c.pdfBase, id)
	req, err := http.NewRequestWithContext(ctx, "GET", pdfURL, nil)
	if err != nil {
		return "", papers.Summary{}, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", papers.Summary{}, fmt.Errorf("download pdf: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", papers.Summary{}, fmt.Errorf("download pdf: status %d", resp.StatusCode)
	}

	if dir == "" {
		dir = os.TempDir()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", papers.Summary{}, fmt.Errorf("create download dir: %w", err)
	}
	path := filepath.Join(dir, sanitizeID(id)+".pdf")
	f, err := os.Create(path)
	if err != nil {
		return "", papers.Summary{}, fmt.Errorf("create pdf file: %w", err)
	}
	if _, err := io.Copy(f, resp.Body); err != nil {
		f.Close()
		os.Remove(path)
		return "", papers.Summary{}, fmt.Errorf("write pdf file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return "", papers.Summary{}, fmt.Errorf("close pdf file: %w", err)
	}
	return path, sum, nil
}

func (c *Client) query(ctx context.Context, params url.Values) (*atomFeed, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", c.endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("query arxiv: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("query arxiv: status %d", resp.StatusCode)
	}
	var feed atomFeed
	if err := xml.NewDecoder(resp.Body).Decode(&feed); err != nil {
		return nil, fmt.Errorf("parse xml: %w", err)
	}
	return &feed, nil
}

func (e atomEntry) toSummary() papers.Summary {
	return papers.Summary{
		ID:      ShortID(e.ID),
		Title:   strings.TrimSpace(e.Title),
		Summary: strings.TrimSpace(e.Summary),
	}
}

// ShortID extracts the stable id from an Atom entry id URL
// (e.g. http://arxiv.org/abs/2301.00001v2 -> 2301.00001).
func ShortID(entryID string) string {
	id := entryID
	if idx := strings.LastIndex(id, "/abs/"); idx >= 0 {
		id = id[idx+len("/abs/"):]
	}
	// strip trailing version suffix vN
	if idx := strings.LastIndex(id, "v"); idx > 0 {
		version := id[idx+1:]
		if version != "" && strings.Trim(version, "0123456789") == "" {
			id = id[:idx]
		}
	}
	return id
}

func sanitizeID(id string) string {
	return strings.NewReplacer("/", "_", "\\", "_").Replace(id)
}
