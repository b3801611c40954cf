package pagination

import (
	"fmt"
	"net/url"
	"strconv"

	"github.com/labstack/echo/v4"
)

const (
	DefaultLimit = 20
	MaxLimit     = 100
)

// Params holds pagination parameters extracted from a request.
type Params struct {
	Limit  int
	Offset int
}

// FromContext reads ?limit= and ?offset=, clamping limit to 1..MaxLimit.
func FromContext(c echo.Context) Params {
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}
	offset, _ := strconv.Atoi(c.QueryParam("offset"))
	if offset < 0 {
		offset = 0
	}
	return Params{Limit: limit, Offset: offset}
}

func (p Params) HasNext(total int) bool {
	return p.Offset+p.Limit < total
}

func (p Params) HasPrevious() bool {
	return p.Offset > 0
}

func (p Params) NextOffset() int {
	return p.Offset + p.Limit
}

// PreviousOffset never goes below 0.
func (p Params) PreviousOffset() int {
	prev := p.Offset - p.Limit
	if prev < 0 {
		return 0
	}
	return prev
}

// Link is a page navigation link.
type Link struct {
	Rel  string `json:"rel"`
	Href string `json:"href"`
}

// Links builds self/next/previous links for basePath. extra query values
// (filters, selections) are carried onto every link.
func (p Params) Links(basePath string, total int, extra url.Values) []Link {
	href := func(offset int) string {
		q := url.Values{}
		for k, vs := range extra {
			if k == "limit" || k == "offset" {
				continue
			}
			q[k] = vs
		}
		q.Set("limit", strconv.Itoa(p.Limit))
		q.Set("offset", strconv.Itoa(offset))
		return fmt.Sprintf("%s?%s", basePath, q.Encode())
	}

	links := []Link{{Rel: "self", Href: href(p.Offset)}}
	if p.HasNext(total) {
		links = append(links, Link{Rel: "next", Href: href(p.NextOffset())})
	}
	if p.HasPrevious() {
		links = append(links, Link{Rel: "previous", Href: href(p.PreviousOffset())})
	}
	return links
}
