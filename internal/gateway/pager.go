package gateway

import (
	"context"
	"errors"

	"github.com/psantana5/wflatency/pkg/models"
)

// DefaultPageSize is the number of records requested per QueryAll page
const DefaultPageSize = 500

// ErrPagerDone is returned by Next once the sequence is exhausted
var ErrPagerDone = errors.New("no more pages")

// PageFunc fetches the page identified by token and returns the token of the
// following page, or "" when there is none. The first page has token "".
type PageFunc func(ctx context.Context, token string) (records []models.Record, next string, err error)

// Pager is a lazy, finite sequence of result pages. It cannot be rewound;
// call QueryAll again for a fresh sequence.
type Pager struct {
	fetch PageFunc
	token string
	done  bool
	err   error
	pages int
}

// NewPager creates a pager over fetch
func NewPager(fetch PageFunc) *Pager {
	return &Pager{fetch: fetch}
}

// errPager returns a pager whose first Next fails with err
func errPager(err error) *Pager {
	return &Pager{done: true, err: err}
}

// More reports whether Next may return another page
func (p *Pager) More() bool {
	return !p.done || p.err != nil
}

// Next fetches the next page
func (p *Pager) Next(ctx context.Context) ([]models.Record, error) {
	if p.err != nil {
		err := p.err
		p.err = nil
		return nil, err
	}
	if p.done {
		return nil, ErrPagerDone
	}

	records, next, err := p.fetch(ctx, p.token)
	if err != nil {
		p.done = true
		return nil, err
	}
	p.pages++
	p.token = next
	if next == "" {
		p.done = true
	}
	return records, nil
}

// Pages returns how many pages have been fetched so far
func (p *Pager) Pages() int {
	return p.pages
}

// Collect drains the pager into one slice
func Collect(ctx context.Context, p *Pager) ([]models.Record, error) {
	var all []models.Record
	for p.More() {
		page, err := p.Next(ctx)
		if err != nil {
			return nil, err
		}
		all = append(all, page...)
	}
	return all, nil
}
