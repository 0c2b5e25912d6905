package semanticscholar

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"paperdesk/internal/papers"
)

const defaultEndpoint = "https://api.semanticscholar.org/graph/v1"

// Client resolves a paper's citations through the Semantic Scholar
// citation graph. Lookups are best-effort: every failure mode maps to a
// degraded ReferenceResult, never to an error, so reference resolution
// can never abort ingestion or a chat turn.
type Client struct {
	endpoint   string
	httpClient *http.Client
}

func New(endpoint string, timeout time.Duration) *Client {
	if endpoint == "" {
		endpoint = defaultEndpoint
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		endpoint:   strings.TrimSuffix(endpoint, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

type graphResponse struct {
	References []struct {
		Title       string            `json:"title"`
		ExternalIDs map[string]string `json:"externalIds"`
	} `json:"references"`
}

// Resolve queries the citation graph once and filters the response to
// references carrying both a title and an ArXiv id.
func (c *Client) Resolve(ctx context.Context, paperID string) papers.ReferenceResult {
	params := url.Values{}
	params.Set("fields", "references.externalIds,references.title")
	reqURL := fmt.Sprintf("%s/paper/arXiv:%s?%s", c.endpoint, url.PathEscape(paperID), params.Encode())

	req, err := http.NewRequestWithContext(ctx, "GET", reqURL, nil)
	if err != nil {
		return degraded(err.Error())
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return degraded(err.Error())
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return degraded(fmt.Sprintf("status %d", resp.StatusCode))
	}

	var data graphResponse
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return degraded("malformed response: " + err.Error())
	}

	refs := make([]papers.Reference, 0, len(data.References))
	for _, r := range data.References {
		id := r.ExternalIDs["ArXiv"]
		if id == "" || strings.TrimSpace(r.Title) == "" {
			continue
		}
		refs = append(refs, papers.Reference{Title: r.Title, ArxivID: id})
	}
	if len(refs) == 0 {
		return papers.ReferenceResult{Kind: papers.ReferencesNoneFound}
	}
	return papers.ReferenceResult{Kind: papers.ReferencesResolved, Refs: refs}
}

func degraded(detail string) papers.ReferenceResult {
	return papers.ReferenceResult{Kind: papers.ReferencesDegraded, Detail: detail}
}
