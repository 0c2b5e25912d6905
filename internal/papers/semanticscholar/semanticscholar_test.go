package semanticscholar

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"paperdesk/internal/papers"
)

func TestResolveFiltersToArxivRefs(t *testing.T) {
	var gotPath, gotFields string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotFields = r.URL.Query().Get("fields")
		w.Write([]byte(`{"references": [
			{"title": "Ref One", "externalIds": {"ArXiv": "2101.00001"}},
			{"title": "No ArXiv Ref", "externalIds": {"DOI": "10.1/x"}},
			{"title": "", "externalIds": {"ArXiv": "2101.00002"}},
			{"title": "Ref Two", "externalIds": {"ArXiv": "2101.00003"}}
		]}`))
	}))
	defer srv.Close()

	res := New(srv.URL, time.Second).Resolve(context.Background(), "2301.00001")
	if gotPath != "/paper/arXiv:2301.00001" {
		t.Fatalf("unexpected path %q", gotPath)
	}
	if gotFields != "references.externalIds,references.title" {
		t.Fatalf("unexpected fields %q", gotFields)
	}
	if res.Kind != papers.ReferencesResolved {
		t.Fatalf("expected resolved, got %+v", res)
	}
	if len(res.Refs) != 2 {
		t.Fatalf("expected 2 refs with arXiv ids, got %d", len(res.Refs))
	}
	if res.Refs[0].ArxivID != "2101.00001" || res.Refs[1].ArxivID != "2101.00003" {
		t.Fatalf("unexpected refs %+v", res.Refs)
	}
}

func TestResolveNoneFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"references": [{"title": "Book Chapter", "externalIds": {"DOI": "10.1/x"}}]}`))
	}))
	defer srv.Close()

	res := New(srv.URL, time.Second).Resolve(context.Background(), "2301.00001")
	if res.Kind != papers.ReferencesNoneFound {
		t.Fatalf("expected none_found, got %+v", res)
	}
	if got := res.Sentinel(); got != "No references with ArXiv IDs found." {
		t.Fatalf("unexpected sentinel %q", got)
	}
}

func TestResolveUpstreamFailureDegrades(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	res := New(srv.URL, time.Second).Resolve(context.Background(), "2301.00001")
	if res.Kind != papers.ReferencesDegraded {
		t.Fatalf("expected degraded, got %+v", res)
	}
	if got := res.Sentinel(); !strings.HasPrefix(got, "Could not fetch references: ") {
		t.Fatalf("unexpected sentinel %q", got)
	}
}

func TestResolveMalformedBodyDegrades(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not json"))
	}))
	defer srv.Close()

	res := New(srv.URL, time.Second).Resolve(context.Background(), "2301.00001")
	if res.Kind != papers.ReferencesDegraded {
		t.Fatalf("expected degraded, got %+v", res)
	}
}

func TestResolveUnreachableHostDegrades(t *testing.T) {
	c := New("http://127.0.0.1:1", 200*time.Millisecond)
	res := c.Resolve(context.Background(), "2301.00001")
	if res.Kind != papers.ReferencesDegraded {
		t.Fatalf("expected degraded, got %+v", res)
	}
}
