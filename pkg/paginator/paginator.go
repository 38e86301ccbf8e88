package paginator

import (
	"bytes"
	"context"
	"iter"
	"net/url"

	"twcrawl/pkg/ratelimit"
	"twcrawl/pkg/twitter"
)

// Caller performs one API request
type Caller interface {
	Call(ctx context.Context, endpoint twitter.Endpoint, params url.Values) (*twitter.Response, error)
}

// Gate paces requests per class
type Gate interface {
	Wait(ctx context.Context, class ratelimit.Class) error
}

// Mode selects how the continuation of a page is found
type Mode int

const (
	// TokenForward follows meta.next_token. The request is finished when the
	// token is absent or a page comes back empty.
	TokenForward Mode = iota
	// CursorForward follows next_cursor_str, starting at "-1". The request is
	// finished when the cursor is "0".
	CursorForward
)

const (
	startCursor = "-1"
	endCursor   = "0"
)

// Request describes one logical request that may span several pages
type Request struct {
	Endpoint twitter.Endpoint
	// Class defaults to Endpoint.Class()
	Class  ratelimit.Class
	Params url.Values
	Mode   Mode
	// CursorField is the query parameter carrying the continuation.
	// Defaults to "next_token" or "cursor" depending on Mode.
	CursorField string
}

// Page is one physical response
type Page struct {
	Response *twitter.Response
	// Number counts pages from 1 within this pager
	Number int
	// Cursor is the continuation the page was requested with
	Cursor string
	// Next is the continuation of the following page, "" when HasMore is false
	Next    string
	HasMore bool
}

// Pager walks the pages of a single logical request. It is not safe for
// concurrent use.
type Pager struct {
	caller Caller
	gate   Gate
	req    Request
	cursor string
	done   bool
	pages  int
}

// New creates a pager positioned at the first page
func New(caller Caller, gate Gate, req Request) *Pager {
	if req.Class == "" {
		req.Class = req.Endpoint.Class()
	}
	if req.CursorField == "" {
		if req.Mode == CursorForward {
			req.CursorField = "cursor"
		} else {
			req.CursorField = "next_token"
		}
	}
	p := &Pager{caller: caller, gate: gate, req: req}
	p.cursor = p.initial()
	return p
}

func (p *Pager) initial() string {
	if p.req.Mode == CursorForward {
		return startCursor
	}
	return ""
}

// Next issues one request through the gate and returns its page. It returns
// nil, nil once the request is finished. On error the cursor is left where it
// was, so calling Next again retries the same page.
func (p *Pager) Next(ctx context.Context) (*Page, error) {
	if p.done {
		return nil, nil
	}

	if err := p.gate.Wait(ctx, p.req.Class); err != nil {
		return nil, err
	}

	resp, err := p.caller.Call(ctx, p.req.Endpoint, p.params())
	if err != nil {
		return nil, err
	}

	page := &Page{Response: resp, Cursor: p.cursor}
	page.Next, page.HasMore = p.continuation(resp)

	p.pages++
	page.Number = p.pages
	if page.HasMore {
		p.cursor = page.Next
	} else {
		page.Next = ""
		p.cursor = ""
		p.done = true
	}
	return page, nil
}

func (p *Pager) params() url.Values {
	params := make(url.Values, len(p.req.Params)+1)
	for k, v := range p.req.Params {
		params[k] = append([]string(nil), v...)
	}
	if p.cursor != "" {
		params.Set(p.req.CursorField, p.cursor)
	}
	return params
}

func (p *Pager) continuation(resp *twitter.Response) (string, bool) {
	if p.req.Mode == CursorForward {
		next := resp.NextCursorStr
		return next, next != "" && next != endCursor
	}

	next := resp.Meta.NextToken
	if next == "" {
		return "", false
	}
	// counts responses carry no result_count, so emptiness is judged on data
	if resp.Meta.ResultCount == 0 && emptyData(resp.Data) {
		return "", false
	}
	return next, true
}

func emptyData(data []byte) bool {
	d := bytes.TrimSpace(data)
	return len(d) == 0 || bytes.Equal(d, []byte("null")) || bytes.Equal(d, []byte("[]"))
}

// Cursor returns the continuation of the next page. It is "" before the
// first token-forward page and once the request is finished.
func (p *Pager) Cursor() string {
	return p.cursor
}

// Resume positions the pager at a previously observed cursor. An empty
// cursor restarts from the first page.
func (p *Pager) Resume(cursor string) {
	p.done = false
	if cursor == "" {
		p.cursor = p.initial()
		return
	}
	p.cursor = cursor
}

// Done reports whether the logical request is finished
func (p *Pager) Done() bool {
	return p.done
}

// Pages returns how many pages were fetched
func (p *Pager) Pages() int {
	return p.pages
}

// All returns the remaining pages as a lazy sequence. Iteration stops after
// the first error, which is yielded with a nil page.
func (p *Pager) All(ctx context.Context) iter.Seq2[*Page, error] {
	return func(yield func(*Page, error) bool) {
		for {
			page, err := p.Next(ctx)
			if err != nil {
				yield(nil, err)
				return
			}
			if page == nil {
				return
			}
			if !yield(page, nil) {
				return
			}
		}
	}
}

// FetchAll walks every page of req from the start
func FetchAll(ctx context.Context, caller Caller, gate Gate, req Request) iter.Seq2[*Page, error] {
	return New(caller, gate, req).All(ctx)
}
