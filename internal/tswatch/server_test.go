package tswatch

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

// fakeTimesSquare serves the subset of the Times Square API used here.
// Streams and statuses are keyed by the encoded query string.
type fakeTimesSquare struct {
	server *httptest.Server

	mu       sync.Mutex
	statuses map[string][]HTMLStatus // popped in order, last one sticks
	streams  map[string][]string     // frames; the stream then blocks
	deletes  []string                // "uri content-type"
	requests []string
}

func newFakeTimesSquare(t *testing.T) *fakeTimesSquare {
	f := &fakeTimesSquare{
		statuses: map[string][]HTMLStatus{},
		streams:  map[string][]string{},
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/pages", f.handlePages)
	mux.HandleFunc("/pages/", f.handlePage)
	mux.HandleFunc("/github", f.handleGitHubContents)
	mux.HandleFunc("/github/", f.handleGitHub)
	mux.HandleFunc("/github-pr/", f.handleGitHubPR)
	f.server = httptest.NewServer(mux)
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeTimesSquare) URL() string { return f.server.URL }

func (f *fakeTimesSquare) setStatuses(params Params, sts ...HTMLStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses[params.Encode()] = sts
}

func (f *fakeTimesSquare) setStream(params Params, frames ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.streams[params.Encode()] = frames
}

func (f *fakeTimesSquare) deleteRequests() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.deletes...)
}

func (f *fakeTimesSquare) seen() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.requests...)
}

func (f *fakeTimesSquare) page(name string) Page {
	base := f.server.URL + "/pages/" + name
	return Page{
		Name:          name,
		Title:         "Demo " + name,
		DateAdded:     "2024-01-01T00:00:00Z",
		Tags:          []string{},
		SelfURL:       base,
		HTMLURL:       base + "/html",
		HTMLStatusURL: base + "/htmlstatus",
		HTMLEventsURL: base + "/html/events",
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func (f *fakeTimesSquare) record(r *http.Request) {
	f.mu.Lock()
	f.requests = append(f.requests, r.Method+" "+r.URL.RequestURI())
	f.mu.Unlock()
}

func (f *fakeTimesSquare) handlePages(w http.ResponseWriter, r *http.Request) {
	f.record(r)
	writeJSON(w, []PageSummary{{Name: "demo", Title: "Demo demo", SelfURL: f.server.URL + "/pages/demo"}})
}

func (f *fakeTimesSquare) handlePage(w http.ResponseWriter, r *http.Request) {
	f.record(r)
	rest := strings.TrimPrefix(r.URL.Path, "/pages/")
	name, sub, _ := strings.Cut(rest, "/")
	if name == "missing" {
		http.NotFound(w, r)
		return
	}
	switch {
	case sub == "" && r.Method == http.MethodGet:
		writeJSON(w, f.page(name))
	case sub == "htmlstatus":
		f.handleStatus(w, r)
	case sub == "html/events":
		f.handleEvents(w, r)
	case sub == "html" && r.Method == http.MethodDelete:
		f.mu.Lock()
		f.deletes = append(f.deletes, r.URL.RequestURI()+" "+r.Header.Get("Content-Type"))
		f.mu.Unlock()
		w.WriteHeader(http.StatusAccepted)
	default:
		http.NotFound(w, r)
	}
}

func (f *fakeTimesSquare) handleStatus(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Encode()
	f.mu.Lock()
	sts := f.statuses[q]
	var st HTMLStatus
	if len(sts) == 0 {
		st = HTMLStatus{Available: false, ContentURL: f.server.URL + "/pages/demo/html"}
	} else {
		st = sts[0]
		if len(sts) > 1 {
			f.statuses[q] = sts[1:]
		}
	}
	f.mu.Unlock()
	writeJSON(w, st)
}

func (f *fakeTimesSquare) handleEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Encode()
	f.mu.Lock()
	frames := f.streams[q]
	f.mu.Unlock()

	w.Header().Set("Content-Type", "text/event-stream")
	w.WriteHeader(http.StatusOK)
	writeFrame(w, ": connected\n\n")
	for _, fr := range frames {
		writeFrame(w, "data: "+fr+"\n\n")
		time.Sleep(5 * time.Millisecond)
	}
	<-r.Context().Done()
}

func (f *fakeTimesSquare) handleGitHub(w http.ResponseWriter, r *http.Request) {
	f.record(r)
	display := strings.TrimPrefix(r.URL.EscapedPath(), "/github/")
	p := f.page("gh-" + strings.ReplaceAll(display, "/", "-"))
	writeJSON(w, p)
}

func (f *fakeTimesSquare) handleGitHubContents(w http.ResponseWriter, r *http.Request) {
	f.record(r)
	writeJSON(w, GitHubContents{Contents: []ContentNode{{
		NodeType: "owner", Path: "owner", Title: "owner",
		Contents: []ContentNode{{
			NodeType: "repo", Path: "owner/repo", Title: "repo",
			Contents: []ContentNode{{NodeType: "page", Path: "owner/repo/demo", Title: "Demo", Contents: []ContentNode{}}},
		}},
	}}})
}

func (f *fakeTimesSquare) handleGitHubPR(w http.ResponseWriter, r *http.Request) {
	f.record(r)
	parts := strings.Split(strings.TrimPrefix(r.URL.EscapedPath(), "/github-pr/"), "/")
	if len(parts) < 3 {
		http.NotFound(w, r)
		return
	}
	if len(parts) > 3 {
		writeJSON(w, f.page("ghpr-"+strings.Join(parts, "-")))
		return
	}
	success := "success"
	writeJSON(w, GitHubPRContents{
		Contents:     []ContentNode{{NodeType: "page", Path: "nb", Title: "Notebook", Contents: []ContentNode{}}},
		Owner:        parts[0],
		Repo:         parts[1],
		Commit:       parts[2],
		YAMLCheck:    &CheckRunSummary{Status: "completed", Conclusion: &success, HeadSHA: parts[2], Name: "YAML config", HTMLURL: "http://gh/check/1"},
		PullRequests: []PullRequest{{Number: 7, Title: "Update notebook", ConversationURL: "http://gh/pr/7", State: "open"}},
	})
}

// event renders one status frame whose html_url points back at the fake.
func (f *fakeTimesSquare) event(page string, params Params, status ExecutionStatus, hash string) string {
	ev := map[string]any{
		"date_submitted":   "2024-01-01T00:00:00Z",
		"execution_status": string(status),
		"html_hash":        nil,
		"html_url":         WithParams(f.server.URL+"/pages/"+page+"/html", params),
	}
	if hash != "" {
		ev["html_hash"] = hash
		ev["date_finished"] = "2024-01-01T00:00:03Z"
		ev["execution_duration"] = 3.0
	}
	b, _ := json.Marshal(ev)
	return string(b)
}

func newTestService(t *testing.T, baseURL, storePath string) *Service {
	t.Helper()
	t.Setenv("TSWATCH_BASE_URL", "")
	t.Setenv("TSWATCH_TOKEN", "")
	yml := fmt.Sprintf("server:\n  baseURL: %s\npoll:\n  interval: 10ms\nevents:\n  retry: 10ms\n", baseURL)
	if storePath != "" {
		yml += fmt.Sprintf("store:\n  path: %s\n", storePath)
	}
	cfg, err := ParseConfig([]byte(yml))
	if err != nil {
		t.Fatalf("ParseConfig: %v", err)
	}
	svc, err := NewService(cfg)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	t.Cleanup(svc.Close)
	return svc
}
