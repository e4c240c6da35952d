package tswatch

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func countRequests(f *fakeTimesSquare, prefix string) int {
	n := 0
	for _, r := range f.seen() {
		if strings.HasPrefix(r, prefix) {
			n++
		}
	}
	return n
}

func TestServicePageIsCached(t *testing.T) {
	f := newFakeTimesSquare(t)
	svc := newTestService(t, f.URL(), "")
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		p, err := svc.Page(ctx, "demo", false)
		if err != nil {
			t.Fatalf("Page: %v", err)
		}
		if p.HTMLEventsURL == "" {
			t.Fatalf("page without events url: %+v", p)
		}
	}
	if n := countRequests(f, "GET /pages/demo"); n != 1 {
		t.Fatalf("page requests=%d, want 1", n)
	}

	if _, err := svc.Page(ctx, "demo", true); err != nil {
		t.Fatalf("forced Page: %v", err)
	}
	if n := countRequests(f, "GET /pages/demo"); n != 2 {
		t.Fatalf("page requests after force=%d, want 2", n)
	}

	if n := svc.Refresh(PagesKey()); n != 1 {
		t.Fatalf("Refresh dropped %d entries, want 1", n)
	}
	if _, err := svc.Page(ctx, "demo", false); err != nil {
		t.Fatalf("Page after refresh: %v", err)
	}
	if n := countRequests(f, "GET /pages/demo"); n != 3 {
		t.Fatalf("page requests after refresh=%d, want 3", n)
	}
}

func TestServiceGitHubPageSecurity(t *testing.T) {
	f := newFakeTimesSquare(t)
	svc := newTestService(t, f.URL(), "")
	_, err := svc.GitHubPage(context.Background(), "../../etc/passwd", false)
	if !errors.Is(err, ErrSecurity) || StatusCode(err) != 400 {
		t.Fatalf("want 400 security error, got %v", err)
	}
	if len(f.seen()) != 0 {
		t.Fatalf("requests=%v", f.seen())
	}
	if svc.Cache().Len() != 0 {
		t.Fatalf("rejected path reached the cache")
	}

	p, err := svc.GitHubPage(context.Background(), "owner//repo/", false)
	if err != nil {
		t.Fatalf("GitHubPage: %v", err)
	}
	if p.Name != "gh-owner-repo" {
		t.Fatalf("page %q", p.Name)
	}
	if _, ok := svc.Cache().Peek(GitHubPageKey("owner/repo")); !ok {
		t.Fatalf("github page not cached under the sanitized path")
	}
}

func TestServiceHTMLStatusParamsIsolated(t *testing.T) {
	f := newFakeTimesSquare(t)
	svc := newTestService(t, f.URL(), "")
	page := f.page("demo")
	f.setStatuses(Params{"a": "1"}, HTMLStatus{Available: true, ContentHash: strPtr("one"), ContentURL: "u1"})
	f.setStatuses(Params{"a": "2"}, HTMLStatus{Available: true, ContentHash: strPtr("two"), ContentURL: "u2"})

	s1, err := svc.HTMLStatus(context.Background(), &page, Params{"a": "1"}, false)
	if err != nil {
		t.Fatalf("HTMLStatus: %v", err)
	}
	s2, err := svc.HTMLStatus(context.Background(), &page, Params{"a": "2"}, false)
	if err != nil {
		t.Fatalf("HTMLStatus: %v", err)
	}
	if s1.ContentToken() != "one" || s2.ContentToken() != "two" {
		t.Fatalf("tokens %q %q", s1.ContentToken(), s2.ContentToken())
	}
}

func TestServiceCloseEndsSubscriptions(t *testing.T) {
	f := newFakeTimesSquare(t)
	svc := newTestService(t, f.URL(), "")
	page := f.page("demo")

	rec := &recorder{}
	sub := svc.Subscribe(context.Background(), &page, nil, rec.handlers())
	p := svc.NewPoller(&page, nil, nil)
	svc.startPoller(context.Background(), p)
	time.Sleep(30 * time.Millisecond)

	done := make(chan struct{})
	go func() {
		svc.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatalf("Close did not return")
	}
	waitDone(t, sub)
	<-p.Done()
	if _, errs, _ := rec.counts(); errs != 0 {
		t.Fatalf("errors on shutdown: %v", rec.errs)
	}
}

func TestServiceGitHubContents(t *testing.T) {
	f := newFakeTimesSquare(t)
	svc := newTestService(t, f.URL(), "")
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		tree, err := svc.GitHubContents(ctx, false)
		if err != nil {
			t.Fatalf("GitHubContents: %v", err)
		}
		if len(tree.Contents) != 1 || tree.Contents[0].Contents[0].Contents[0].Path != "owner/repo/demo" {
			t.Fatalf("unexpected tree %+v", tree)
		}
	}
	if n := countRequests(f, "GET /github"); n != 1 {
		t.Fatalf("contents requests=%d, want 1", n)
	}

	pr, err := svc.GitHubPRContents(ctx, "owner", "repo", "abc123", false)
	if err != nil {
		t.Fatalf("GitHubPRContents: %v", err)
	}
	if pr.Commit != "abc123" || pr.YAMLCheck == nil || *pr.YAMLCheck.Conclusion != "success" || pr.NbexecCheck != nil || len(pr.PullRequests) != 1 {
		t.Fatalf("unexpected PR contents %+v", pr)
	}
	if _, ok := svc.Cache().Peek(GitHubPRContentsKey("owner", "repo", "abc123")); !ok {
		t.Fatalf("PR contents not cached")
	}
	if _, err := svc.GitHubPRContents(ctx, "owner", "..", "abc123", false); !errors.Is(err, ErrSecurity) {
		t.Fatalf("want security error, got %v", err)
	}
}

func TestServiceGitHubHTMLStatus(t *testing.T) {
	f := newFakeTimesSquare(t)
	svc := newTestService(t, f.URL(), "")
	ctx := context.Background()
	f.setStatuses(Params{"a": "1"}, HTMLStatus{Available: true, ContentHash: strPtr("gh1"), ContentURL: "u"})

	st, err := svc.GitHubHTMLStatus(ctx, "owner//repo", Params{"a": "1"}, false)
	if err != nil {
		t.Fatalf("GitHubHTMLStatus: %v", err)
	}
	if st.ContentToken() != "gh1" {
		t.Fatalf("token %q", st.ContentToken())
	}
	if _, ok := svc.Cache().Peek(GitHubHTMLStatusKey("owner/repo", Params{"a": "1"})); !ok {
		t.Fatalf("status not cached under the sanitized display path")
	}
	if n := countRequests(f, "GET /pages/gh-owner-repo/htmlstatus?a=1"); n != 1 {
		t.Fatalf("status requests=%d, want 1 (%v)", n, f.seen())
	}

	if _, err := svc.GitHubHTMLStatus(ctx, "%2e%2e%2fadmin", nil, false); !errors.Is(err, ErrSecurity) {
		t.Fatalf("want security error, got %v", err)
	}

	st, err = svc.GitHubPRHTMLStatus(ctx, "owner", "repo", "abc", "nb", nil, false)
	if err != nil {
		t.Fatalf("GitHubPRHTMLStatus: %v", err)
	}
	if st.ContentToken() != NotAvailableToken {
		t.Fatalf("token %q", st.ContentToken())
	}
}

func TestServiceHTMLStatusByURL(t *testing.T) {
	f := newFakeTimesSquare(t)
	svc := newTestService(t, f.URL(), "")
	page := f.page("demo")
	f.setStatuses(nil, HTMLStatus{Available: true, ContentHash: strPtr("h"), ContentURL: "u"})

	for i := 0; i < 2; i++ {
		st, err := svc.HTMLStatusByURL(context.Background(), page.HTMLStatusURL, nil, false)
		if err != nil {
			t.Fatalf("HTMLStatusByURL: %v", err)
		}
		if st.ContentToken() != "h" {
			t.Fatalf("token %q", st.ContentToken())
		}
	}
	if n := countRequests(f, "GET /pages/demo/htmlstatus"); n != 1 {
		t.Fatalf("status requests=%d, want 1", n)
	}
}
