package tswatch

import "testing"

func TestKeysEqualByValue(t *testing.T) {
	a := HTMLStatusForPageKey("demo", Params{"a": "1", "b": "2"})
	b := HTMLStatusForPageKey("demo", Params{"b": "2", "a": "1"})
	if !a.Equal(b) {
		t.Fatalf("expected equal keys: %s vs %s", a, b)
	}
	if a.String() != b.String() {
		t.Fatalf("canonical encodings differ: %s vs %s", a, b)
	}

	c := HTMLStatusForPageKey("demo", Params{"a": "1", "b": "3"})
	if a.Equal(c) {
		t.Fatalf("keys with different params must differ: %s", a)
	}
	if HTMLStatusForPageKey("demo", nil).Equal(HTMLStatusForPageKey("other", nil)) {
		t.Fatalf("keys for different pages must differ")
	}
}

func TestKeysNilParamsEqualEmpty(t *testing.T) {
	if !HTMLStatusForPageKey("demo", nil).Equal(HTMLStatusForPageKey("demo", Params{})) {
		t.Fatalf("nil and empty params should give equal keys")
	}
}

func TestKeyImmutable(t *testing.T) {
	p := Params{"a": "1"}
	k := HTMLStatusForPageKey("demo", p)
	p["a"] = "2"
	if got := k.Params()["a"]; got != "1" {
		t.Fatalf("key params changed with caller map: %q", got)
	}
	k.Params()["a"] = "3"
	if got := k.Params()["a"]; got != "1" {
		t.Fatalf("key params changed through accessor: %q", got)
	}
}

func TestKeyHasPrefix(t *testing.T) {
	status := HTMLStatusForPageKey("demo", Params{"a": "1"})
	cases := []struct {
		prefix Key
		want   bool
	}{
		{AllKey(), true},
		{HTMLStatusKey(), true},
		{PagesKey(), false},
		{HTMLStatusForPageKey("demo", Params{"a": "1"}), true},
		{HTMLStatusForPageKey("demo", Params{"a": "2"}), false},
		{Key{}, false},
	}
	for _, tc := range cases {
		if got := status.HasPrefix(tc.prefix); got != tc.want {
			t.Fatalf("%s HasPrefix %s = %v, want %v", status, tc.prefix, got, tc.want)
		}
	}
	if !GitHubPageKey("owner/repo").HasPrefix(GitHubKey()) {
		t.Fatalf("github page key should scope under github")
	}
	if GitHubPRPageKey("o", "r", "c", "p").HasPrefix(GitHubKey()) {
		t.Fatalf("github-pr keys are not under github")
	}
}

func TestWithParams(t *testing.T) {
	if got := WithParams("http://x/events", nil); got != "http://x/events" {
		t.Fatalf("no params: %q", got)
	}
	if got := WithParams("http://x/events", Params{"b": "2", "a": "x y"}); got != "http://x/events?a=x+y&b=2" {
		t.Fatalf("params: %q", got)
	}
	if got := WithParams("http://x/events?z=1", Params{"a": "1"}); got != "http://x/events?z=1&a=1" {
		t.Fatalf("existing query: %q", got)
	}
}
