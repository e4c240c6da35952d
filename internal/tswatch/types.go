package tswatch

// ExecutionStatus is the server-side state of a notebook render.
type ExecutionStatus string

const (
	StatusQueued     ExecutionStatus = "queued"
	StatusInProgress ExecutionStatus = "in_progress"
	StatusComplete   ExecutionStatus = "complete"
)

// NotAvailableToken is the render token used until rendered HTML exists.
const NotAvailableToken = "html-not-available"

// StatusEvent is one frame of the html/events stream.
type StatusEvent struct {
	DateSubmitted   string          `json:"date_submitted"`
	DateStarted     *string         `json:"date_started"`
	DateFinished    *string         `json:"date_finished"`
	Status          ExecutionStatus `json:"execution_status"`
	DurationSeconds *float64        `json:"execution_duration"`
	ContentHash     *string         `json:"html_hash"`
	ContentURL      string          `json:"html_url"`
}

// Terminal reports whether no further events are expected after ev.
func (ev StatusEvent) Terminal() bool {
	return ev.Status == StatusComplete && ev.ContentHash != nil
}

// HTMLStatus is the htmlstatus polling response.
type HTMLStatus struct {
	Available   bool    `json:"available"`
	ContentHash *string `json:"html_hash"`
	ContentURL  string  `json:"html_url"`
}

// ContentToken is the hash when HTML is available, NotAvailableToken
// otherwise.
func (s *HTMLStatus) ContentToken() string {
	if s == nil || !s.Available || s.ContentHash == nil {
		return NotAvailableToken
	}
	return *s.ContentHash
}

// PageSummary is an entry of the page list.
type PageSummary struct {
	Name    string `json:"name"`
	Title   string `json:"title"`
	SelfURL string `json:"self_url"`
}

// Page is page metadata, including where its status and events live.
type Page struct {
	Name          string   `json:"name"`
	Title         string   `json:"title"`
	DateAdded     string   `json:"date_added"`
	CacheTTL      *int     `json:"cache_ttl,omitempty"`
	Tags          []string `json:"tags"`
	SelfURL       string   `json:"self_url"`
	HTMLURL       string   `json:"html_url"`
	HTMLStatusURL string   `json:"html_status_url"`
	HTMLEventsURL string   `json:"html_events_url"`
}

// ContentNode is one node of a GitHub contents tree. NodeType is one of
// owner, repo, directory or page.
type ContentNode struct {
	NodeType string        `json:"node_type"`
	Path     string        `json:"path"`
	Title    string        `json:"title"`
	Contents []ContentNode `json:"contents"`
}

// GitHubContents is the tree of GitHub-backed pages.
type GitHubContents struct {
	Contents []ContentNode `json:"contents"`
}

type CheckRunSummary struct {
	Status      string  `json:"status"`
	Conclusion  *string `json:"conclusion"`
	HeadSHA     string  `json:"head_sha"`
	Name        string  `json:"name"`
	HTMLURL     string  `json:"html_url"`
	ReportTitle *string `json:"report_title,omitempty"`
}

type PullRequest struct {
	Number          int    `json:"number"`
	Title           string `json:"title"`
	ConversationURL string `json:"conversation_url"`
	State           string `json:"state"`
	Contributor     struct {
		Username string `json:"username"`
	} `json:"contributor"`
}

// GitHubPRContents is the page tree of a pull request preview together with
// its check runs.
type GitHubPRContents struct {
	Contents     []ContentNode    `json:"contents"`
	Owner        string           `json:"owner"`
	Repo         string           `json:"repo"`
	Commit       string           `json:"commit"`
	YAMLCheck    *CheckRunSummary `json:"yaml_check"`
	NbexecCheck  *CheckRunSummary `json:"nbexec_check"`
	PullRequests []PullRequest    `json:"pull_requests"`
}
