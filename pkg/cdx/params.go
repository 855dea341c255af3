package cdx

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// Params are the caller-facing query options. Zero values are omitted from
// the request.
type Params struct {
	// From and To bound the capture timestamp (yyyyMMddhhmmss, any prefix).
	From string
	To   string

	// MatchType is exact, prefix, host or domain.
	MatchType string

	// Limit caps the number of records across all endpoints. Zero means the
	// default for Get and unbounded for Items.
	Limit int

	Sort    string
	Closest string

	// Filter holds field filters such as "status:200" or "!mime:text/html".
	Filter []string

	// Fields selects the returned fields (sent as fl).
	Fields []string

	PageSize int

	// Page requests one specific page. Reserved by Items.
	Page *int

	// Extra is merged into the request as-is. A "limit" here is read as
	// Limit when Limit is unset, never forwarded per page.
	Extra url.Values
}

// values renders p as request parameters for pattern. The result is a fresh
// map; pagination state is merged into it by the caller.
func (p Params) values(pattern string) url.Values {
	v := make(url.Values)
	for k, vals := range p.Extra {
		if k == limitParam {
			continue
		}
		v[k] = append([]string(nil), vals...)
	}

	setIf := func(key, value string) {
		if value != "" {
			v.Set(key, value)
		}
	}
	setIf("from", p.From)
	setIf("to", p.To)
	setIf("matchType", p.MatchType)
	setIf("sort", p.Sort)
	setIf("closest", p.Closest)
	if len(p.Fields) > 0 {
		v.Set("fl", strings.Join(p.Fields, ","))
	}
	for _, f := range p.Filter {
		v.Add("filter", f)
	}
	if p.PageSize > 0 {
		v.Set("pageSize", strconv.Itoa(p.PageSize))
	}
	if p.Page != nil {
		v.Set(pageParam, strconv.Itoa(*p.Page))
	}

	v.Set("url", pattern)
	v.Set("output", "json")
	return v
}

// limit returns the total record budget: Limit, or else a "limit" in Extra.
func (p Params) limit() (int, error) {
	if !p.Extra.Has(limitParam) {
		return p.Limit, nil
	}
	raw := p.Extra.Get(limitParam)
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w (got %q)", ErrInvalidLimit, raw)
	}
	if p.Limit > 0 {
		return p.Limit, nil
	}
	return n, nil
}

// hasPage reports whether the caller asked for a specific page.
func (p Params) hasPage() bool {
	return p.Page != nil || p.Extra.Has(pageParam)
}
