// Package fetcher walks the EURES vacancy search API page by page.
package fetcher

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"

	"eures-rank/internal/domain"
	"eures-rank/internal/metrics"
	"eures-rank/internal/session"
)

const (
	defaultBaseURL  = "https://europa.eu/eures/eures-apps/searchengine"
	defaultOrigin   = "https://europa.eu"
	defaultReferer  = "https://europa.eu/eures/portal/jv-se/search"
	defaultPageSize = 50
	httpTimeout     = 30 * time.Second
	maxBodyBytes    = 32 << 20
)

type Options struct {
	BaseURL  string
	Origin   string
	Referer  string
	PageSize int
	// MaxPages stops the walk after this many pages; 0 means no limit.
	MaxPages int
	// MaxAttempts bounds retries of one page after transient errors.
	MaxAttempts    uint
	InitialBackoff time.Duration
	// PageDelay is a pause between consecutive pages.
	PageDelay    time.Duration
	FetchDetails bool
	Client       *http.Client
	Logger       *zap.Logger
	Metrics      *metrics.Collector
}

// Page is one committed page of the listing.
type Page struct {
	Cursor  Cursor
	Total   int
	Records []domain.JobRecord
	// Invalid holds a *domain.RecordError per vacancy that could not be normalised.
	Invalid []error
	// Last is set when no further page should be requested.
	Last bool
}

type Fetcher struct {
	session *session.Manager
	opts    Options
	client  *http.Client
	log     *zap.Logger
	metrics *metrics.Collector
}

func New(sess *session.Manager, opts Options) *Fetcher {
	if opts.BaseURL == "" {
		opts.BaseURL = defaultBaseURL
	}
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	if opts.Origin == "" {
		opts.Origin = defaultOrigin
	}
	if opts.Referer == "" {
		opts.Referer = defaultReferer
	}
	if opts.PageSize <= 0 {
		opts.PageSize = defaultPageSize
	}
	if opts.MaxAttempts == 0 {
		opts.MaxAttempts = 3
	}
	if opts.InitialBackoff <= 0 {
		opts.InitialBackoff = 500 * time.Millisecond
	}
	client := opts.Client
	if client == nil {
		client = &http.Client{Timeout: httpTimeout}
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Fetcher{session: sess, opts: opts, client: client, log: log, metrics: opts.Metrics}
}

// Start is the cursor of the first page.
func (f *Fetcher) Start() Cursor {
	return Cursor{Page: 1, PageSize: f.opts.PageSize}
}

// Pages yields pages starting at start until the listing is exhausted. The
// sequence can be restarted from any cursor. An error is always the last
// element.
func (f *Fetcher) Pages(ctx context.Context, c Criteria, start Cursor) iter.Seq2[Page, error] {
	return func(yield func(Page, error) bool) {
		cur := start
		if cur.Page < 1 {
			cur.Page = 1
		}
		if cur.PageSize <= 0 {
			cur.PageSize = f.opts.PageSize
		}
		for n := 0; f.opts.MaxPages == 0 || n < f.opts.MaxPages; n++ {
			if n > 0 && f.opts.PageDelay > 0 {
				select {
				case <-ctx.Done():
					yield(Page{Cursor: cur}, ctx.Err())
					return
				case <-time.After(f.opts.PageDelay):
				}
			}
			page, err := f.FetchPage(ctx, c, cur)
			if err != nil {
				yield(Page{Cursor: cur}, err)
				return
			}
			if !yield(page, nil) || page.Last {
				return
			}
			cur = cur.Next()
		}
	}
}

// Records flattens Pages into single vacancies. A *domain.RecordError for
// a malformed vacancy does not end the sequence; any other error does.
func (f *Fetcher) Records(ctx context.Context, c Criteria, start Cursor) iter.Seq2[domain.JobRecord, error] {
	return func(yield func(domain.JobRecord, error) bool) {
		for page, err := range f.Pages(ctx, c, start) {
			if err != nil {
				yield(domain.JobRecord{}, err)
				return
			}
			for _, rec := range page.Records {
				if !yield(rec, nil) {
					return
				}
			}
			for _, e := range page.Invalid {
				if !yield(domain.JobRecord{}, e) {
					return
				}
			}
		}
	}
}

// FetchPage requests a single page, retrying transient failures with
// exponential backoff. Failures are returned as *domain.PageError.
func (f *Fetcher) FetchPage(ctx context.Context, c Criteria, cur Cursor) (Page, error) {
	body, err := json.Marshal(c.request(cur))
	if err != nil {
		return Page{}, &domain.PageError{Page: cur.Page, Err: err}
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = f.opts.InitialBackoff
	b.MaxInterval = 30 * time.Second

	resp, err := backoff.Retry(ctx, func() (searchResponse, error) {
		resp, err := f.search(ctx, body)
		if err == nil {
			return resp, nil
		}
		if errors.Is(err, domain.ErrTransientNetwork) || errors.Is(err, domain.ErrMalformedPage) {
			return resp, err
		}
		return resp, backoff.Permanent(err)
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(f.opts.MaxAttempts),
		backoff.WithNotify(func(err error, next time.Duration) {
			f.metrics.FetchRetry()
			f.log.Warn("page fetch failed, retrying",
				zap.Int("page", cur.Page), zap.Duration("backoff", next), zap.Error(err))
		}),
	)
	if err != nil {
		return Page{}, &domain.PageError{Page: cur.Page, Err: err}
	}
	f.metrics.PageFetched()

	page := Page{Cursor: cur, Total: resp.NumberRecords}
	for _, raw := range resp.JVs {
		var details json.RawMessage
		if f.opts.FetchDetails {
			details = f.detailOrNil(ctx, raw)
		}
		rec, err := normalize(raw, details)
		if err != nil {
			page.Invalid = append(page.Invalid, &domain.RecordError{
				ID:  scalar(idOf(raw)),
				Err: fmt.Errorf("%w: %v", domain.ErrMalformedPage, err),
			})
			continue
		}
		page.Records = append(page.Records, rec)
	}
	n := len(resp.JVs)
	page.Last = n == 0 || n < cur.PageSize ||
		(resp.NumberRecords > 0 && cur.Page*cur.PageSize >= resp.NumberRecords)

	f.log.Debug("page fetched",
		zap.Int("page", cur.Page), zap.Int("records", n), zap.Int("total", resp.NumberRecords))
	return page, nil
}

func (f *Fetcher) search(ctx context.Context, payload []byte) (searchResponse, error) {
	var out searchResponse
	err := f.session.Do(ctx, func(ctx context.Context, s session.State) (int, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost,
			f.opts.BaseURL+"/page/jv-search/search", bytes.NewReader(payload))
		if err != nil {
			return 0, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Origin", f.opts.Origin)
		req.Header.Set("Referer", f.opts.Referer)
		f.setSessionHeaders(req, s)

		status, body, err := f.do(req)
		if err != nil || f.session.IsAuthFailure(status) {
			return status, err
		}
		if status == http.StatusTooManyRequests || status >= 500 {
			return status, fmt.Errorf("%w: status %d", domain.ErrTransientNetwork, status)
		}
		if status != http.StatusOK {
			return status, fmt.Errorf("search returned %d: %s", status, truncate(body))
		}
		out = searchResponse{}
		if err := json.Unmarshal(body, &out); err != nil {
			return status, fmt.Errorf("%w: %v", domain.ErrMalformedPage, err)
		}
		return status, nil
	})
	return out, err
}

// Detail fetches the full vacancy document for id.
func (f *Fetcher) Detail(ctx context.Context, id string) (json.RawMessage, error) {
	var out json.RawMessage
	err := f.session.Do(ctx, func(ctx context.Context, s session.State) (int, error) {
		u := f.opts.BaseURL + "/page/jv/id/" + url.PathEscape(id) + "?lang=en"
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return 0, err
		}
		req.Header.Set("Referer", defaultOrigin+"/eures/portal/jv-se/jv-details/"+url.PathEscape(id)+"?lang=en")
		f.setSessionHeaders(req, s)

		status, body, err := f.do(req)
		if err != nil || f.session.IsAuthFailure(status) {
			return status, err
		}
		if status != http.StatusOK {
			return status, fmt.Errorf("detail %s returned %d", id, status)
		}
		if !json.Valid(body) {
			return status, fmt.Errorf("%w: detail %s is not JSON", domain.ErrMalformedPage, id)
		}
		out = body
		return status, nil
	})
	return out, err
}

func (f *Fetcher) detailOrNil(ctx context.Context, raw json.RawMessage) json.RawMessage {
	id := scalar(idOf(raw))
	if id == "" {
		return nil
	}
	d, err := f.Detail(ctx, id)
	if err != nil {
		f.log.Warn("detail fetch failed", zap.String("id", id), zap.Error(err))
		return nil
	}
	return d
}

func (f *Fetcher) setSessionHeaders(req *http.Request, s session.State) {
	req.Header.Set("User-Agent", "Mozilla/5.0")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-XSRF-TOKEN", s.Token)
	req.Header.Set("Cookie", s.Cookie)
}

// do sends req and reads the body. Transport failures are reported as
// domain.ErrTransientNetwork.
func (f *Fetcher) do(req *http.Request) (int, []byte, error) {
	resp, err := f.client.Do(req)
	if err != nil {
		if ctxErr := req.Context().Err(); ctxErr != nil {
			return 0, nil, ctxErr
		}
		return 0, nil, fmt.Errorf("%w: %v", domain.ErrTransientNetwork, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("%w: read body: %v", domain.ErrTransientNetwork, err)
	}
	return resp.StatusCode, body, nil
}

func idOf(raw json.RawMessage) json.RawMessage {
	var v struct {
		ID json.RawMessage `json:"id"`
	}
	_ = json.Unmarshal(raw, &v)
	return v.ID
}

func truncate(b []byte) string {
	const limit = 200
	if len(b) > limit {
		return string(b[:limit]) + "..."
	}
	return string(b)
}
