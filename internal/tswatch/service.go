package tswatch

import (
	"context"
	"log"
	"net/http"
	"sync"
	"time"
)

// Service owns the shared pieces: REST client, event subscriber, query cache
// and the optional token store. Everything started through it stops on
// Close.
type Service struct {
	cfg Config

	httpClient   *http.Client
	streamClient *http.Client

	client     *Client
	subscriber *Subscriber
	cache      *Cache
	store      *TokenStore

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewService(cfg Config) (*Service, error) {
	var store *TokenStore
	if cfg.Store.Path != "" {
		var err error
		store, err = OpenTokenStore(cfg.Store.Path)
		if err != nil {
			return nil, err
		}
	}

	s := &Service{
		cfg:          cfg,
		httpClient:   &http.Client{Timeout: cfg.Timeout()},
		streamClient: &http.Client{},
		cache:        NewCache(cfg.Cache.MaxEntries),
		store:        store,
	}
	s.client = NewClient(cfg.Server.BaseURL, cfg.Server.Token, s.httpClient)
	s.subscriber = NewSubscriber(s.streamClient, cfg.Server.Token, SubscriberOptions{
		RetryInterval: cfg.RetryInterval(),
		MaxRetries:    cfg.Events.MaxRetries,
		RateLimit:     cfg.RateLimit(),
		Debug:         cfg.Logging.Debug,
	})
	s.ctx, s.cancel = context.WithCancel(context.Background())

	if every := cfg.StatsEvery(); every > 0 {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.statsLoop(every)
		}()
	}

	debugf(cfg.Logging.Debug, "service: base %s, poll %s, cache ttl %s", cfg.Server.BaseURL, cfg.PollInterval(), cfg.CacheTTL())
	return s, nil
}

// Close cancels every subscription and poller, waits for them and closes
// the store.
func (s *Service) Close() {
	s.cancel()
	s.wg.Wait()
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			log.Printf("token store close: %v", err)
		}
	}
}

func (s *Service) statsLoop(every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-t.C:
			s.logStats(log.Printf)
		}
	}
}

func (s *Service) logStats(printf func(string, ...any)) {
	st := s.cache.Stats()
	printf(
		"Cache: Entries: %d, Hits: %d, Fetches: %d, Errors: %d, Fetch min/avg/max %s/%s/%s",
		st.Entries,
		st.Hits,
		st.Misses,
		st.Errors,
		formatFetch(st.MinFetch),
		formatFetch(st.AvgFetch),
		formatFetch(st.MaxFetch),
	)
}

func (s *Service) Config() Config     { return s.cfg }
func (s *Service) Client() *Client    { return s.client }
func (s *Service) Cache() *Cache      { return s.cache }
func (s *Service) Store() *TokenStore { return s.store }

func (s *Service) getOpts(force bool) GetOptions {
	return GetOptions{TTL: s.cfg.CacheTTL(), ForceRefresh: force}
}

func (s *Service) Pages(ctx context.Context, force bool) ([]PageSummary, error) {
	return GetAs(ctx, s.cache, PageListKey(), s.client.Pages, s.getOpts(force))
}

func (s *Service) Page(ctx context.Context, name string, force bool) (*Page, error) {
	return GetAs(ctx, s.cache, PageKey(name), func(ctx context.Context) (*Page, error) {
		return s.client.Page(ctx, name)
	}, s.getOpts(force))
}

// GitHubPage resolves a GitHub display path. The path is sanitized before it
// becomes part of a key or a request.
func (s *Service) GitHubPage(ctx context.Context, displayPath string, force bool) (*Page, error) {
	clean, err := SanitizeDisplayPath(displayPath)
	if err != nil {
		return nil, err
	}
	return GetAs(ctx, s.cache, GitHubPageKey(clean), func(ctx context.Context) (*Page, error) {
		return s.client.GitHubPage(ctx, clean)
	}, s.getOpts(force))
}

func (s *Service) GitHubPRPage(ctx context.Context, owner, repo, commit, path string, force bool) (*Page, error) {
	clean, err := SanitizeDisplayPath(path)
	if err != nil {
		return nil, err
	}
	return GetAs(ctx, s.cache, GitHubPRPageKey(owner, repo, commit, clean), func(ctx context.Context) (*Page, error) {
		return s.client.GitHubPRPage(ctx, owner, repo, commit, clean)
	}, s.getOpts(force))
}

func (s *Service) GitHubContents(ctx context.Context, force bool) (*GitHubContents, error) {
	return GetAs(ctx, s.cache, GitHubContentsKey(), s.client.GitHubContents, s.getOpts(force))
}

func (s *Service) GitHubPRContents(ctx context.Context, owner, repo, commit string, force bool) (*GitHubPRContents, error) {
	return GetAs(ctx, s.cache, GitHubPRContentsKey(owner, repo, commit), func(ctx context.Context) (*GitHubPRContents, error) {
		return s.client.GitHubPRContents(ctx, owner, repo, commit)
	}, s.getOpts(force))
}

// GitHubHTMLStatus returns the render status of a GitHub page. The page
// metadata comes from the cache when fresh; the status is fetched from its
// html_status_url.
func (s *Service) GitHubHTMLStatus(ctx context.Context, displayPath string, params Params, force bool) (*HTMLStatus, error) {
	clean, err := SanitizeDisplayPath(displayPath)
	if err != nil {
		return nil, err
	}
	page, err := s.GitHubPage(ctx, clean, false)
	if err != nil {
		return nil, err
	}
	return GetAs(ctx, s.cache, GitHubHTMLStatusKey(clean, params), s.statusFetch(page, params), s.getOpts(force))
}

func (s *Service) GitHubPRHTMLStatus(ctx context.Context, owner, repo, commit, path string, params Params, force bool) (*HTMLStatus, error) {
	clean, err := SanitizeDisplayPath(path)
	if err != nil {
		return nil, err
	}
	page, err := s.GitHubPRPage(ctx, owner, repo, commit, clean, false)
	if err != nil {
		return nil, err
	}
	return GetAs(ctx, s.cache, GitHubPRHTMLStatusKey(owner, repo, commit, clean, params), s.statusFetch(page, params), s.getOpts(force))
}

// HTMLStatusByURL fetches a status from an html_status_url directly.
func (s *Service) HTMLStatusByURL(ctx context.Context, statusURL string, params Params, force bool) (*HTMLStatus, error) {
	params = params.Clone()
	return GetAs(ctx, s.cache, HTMLStatusByURLKey(statusURL, params), func(ctx context.Context) (*HTMLStatus, error) {
		return s.client.FetchHTMLStatusByURL(ctx, statusURL, params)
	}, s.getOpts(force))
}

// HTMLStatus returns the render status of page for params.
func (s *Service) HTMLStatus(ctx context.Context, page *Page, params Params, force bool) (*HTMLStatus, error) {
	return GetAs(ctx, s.cache, HTMLStatusForPageKey(page.Name, params), s.statusFetch(page, params), s.getOpts(force))
}

func (s *Service) statusFetch(page *Page, params Params) func(context.Context) (*HTMLStatus, error) {
	params = params.Clone()
	return func(ctx context.Context) (*HTMLStatus, error) {
		if page.HTMLStatusURL != "" {
			return s.client.FetchHTMLStatusByURL(ctx, page.HTMLStatusURL, params)
		}
		return s.client.FetchHTMLStatus(ctx, page.Name, params)
	}
}

func (s *Service) eventsURL(page *Page) string {
	if page.HTMLEventsURL != "" {
		return page.HTMLEventsURL
	}
	return s.client.EventsURL(page.Name)
}

// Subscribe opens the events stream of page. The subscription also ends
// when ctx ends or the Service closes.
func (s *Service) Subscribe(ctx context.Context, page *Page, params Params, h Handlers) *Subscription {
	sctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(s.ctx, cancel)
	sub := s.subscriber.Subscribe(sctx, s.eventsURL(page), params, h)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		<-sub.Done()
		stop()
		cancel()
	}()
	return sub
}

// NewPoller builds a poller for page and params. It is started with Start
// and also stops when the Service closes.
func (s *Service) NewPoller(page *Page, params Params, onUpdate func(PollSnapshot)) *StatusPoller {
	return NewStatusPoller(s.cache, HTMLStatusForPageKey(page.Name, params), s.statusFetch(page, params), PollerOptions{
		Interval: s.cfg.PollInterval(),
		OnUpdate: onUpdate,
	})
}

func (s *Service) startPoller(ctx context.Context, p *StatusPoller) {
	pctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(s.ctx, cancel)
	p.Start(pctx)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		<-p.Done()
		stop()
		cancel()
	}()
}

// Refresh drops cached queries under prefix.
func (s *Service) Refresh(prefix Key) int {
	n := s.cache.Invalidate(prefix)
	debugf(s.cfg.Logging.Debug, "cache: invalidated %d under %s", n, prefix)
	return n
}

// Recompute requests a new execution of page for params. The request is
// fire-and-forget on the server side; the cached status is dropped so the
// next poll sees the new run.
func (s *Service) Recompute(ctx context.Context, page *Page, params Params, contentURL string) error {
	if contentURL == "" {
		if page.HTMLURL == "" {
			return validationError("page has no html url", nil)
		}
		contentURL = WithParams(page.HTMLURL, params)
	}
	if err := s.client.Recompute(ctx, contentURL); err != nil {
		return err
	}
	s.Refresh(HTMLStatusForPageKey(page.Name, params))
	return nil
}
