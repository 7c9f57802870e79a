package tenancy

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"
)

// DefaultHeader carries an explicit tenant code.
const DefaultHeader = "X-Tenant-Code"

// Outcome classifies what the resolver did with a request.
type Outcome string

const (
	OutcomeBound        Outcome = "bound"
	OutcomeNoCandidate  Outcome = "no_candidate"
	OutcomeInvalidCode  Outcome = "invalid_code"
	OutcomeUnknown      Outcome = "unknown"
	OutcomeInactive     Outcome = "inactive"
	OutcomeLookupFailed Outcome = "lookup_failed"
)

// CodeSource extracts a candidate tenant code from a request. An empty
// string means the source has nothing to offer.
type CodeSource interface {
	Name() string
	Extract(r *http.Request) string
}

// HeaderCode reads the candidate from a request header.
type HeaderCode struct {
	Header string
}

func (h HeaderCode) Name() string { return "header" }

func (h HeaderCode) Extract(r *http.Request) string {
	name := h.Header
	if name == "" {
		name = DefaultHeader
	}
	return strings.TrimSpace(r.Header.Get(name))
}

// HostCode reads the candidate from the first label of the request host.
// IP literals, localhost and a leading "www" yield nothing. When BaseDomain is
// set, only hosts under it qualify ("demo.hbys.example" with BaseDomain
// "hbys.example" yields "demo").
type HostCode struct {
	BaseDomain string
}

func (h HostCode) Name() string { return "host" }

func (h HostCode) Extract(r *http.Request) string {
	host := r.Host
	if hp, _, err := net.SplitHostPort(host); err == nil {
		host = hp
	}
	host = strings.TrimSuffix(strings.ToLower(host), ".")
	if host == "" || host == "localhost" || net.ParseIP(strings.Trim(host, "[]")) != nil {
		return ""
	}

	if base := strings.Trim(strings.ToLower(h.BaseDomain), "."); base != "" {
		if !strings.HasSuffix(host, "."+base) {
			return ""
		}
		host = strings.TrimSuffix(host, "."+base)
	}

	first, _, _ := strings.Cut(host, ".")
	if first == "www" {
		return ""
	}
	return first
}

// Resolution is the result of running the resolver over one request.
type Resolution struct {
	Outcome   Outcome
	Source    string
	Candidate string
	Entry     *Entry
	Err       error
}

// Resolver turns a request into a Resolution. It never fails the request.
type Resolver struct {
	sources []CodeSource
	dir     Directory
	now     func() time.Time
}

// NewResolver builds a resolver trying sources in order.
func NewResolver(dir Directory, sources ...CodeSource) *Resolver {
	if len(sources) == 0 {
		sources = []CodeSource{HeaderCode{}, HostCode{}}
	}
	return &Resolver{sources: sources, dir: dir, now: time.Now}
}

// Resolve extracts a candidate code, normalizes it and consults the directory.
func (r *Resolver) Resolve(ctx context.Context, req *http.Request) Resolution {
	var res Resolution
	for _, src := range r.sources {
		if c := src.Extract(req); c != "" {
			res.Source = src.Name()
			res.Candidate = c
			break
		}
	}
	if res.Candidate == "" {
		res.Outcome = OutcomeNoCandidate
		return res
	}

	code, err := NormalizeCode(res.Candidate)
	if err != nil {
		res.Outcome = OutcomeInvalidCode
		res.Err = err
		return res
	}
	res.Candidate = code

	entry, err := r.dir.LookupByCode(ctx, code)
	switch {
	case errors.Is(err, ErrUnknownTenant):
		res.Outcome = OutcomeUnknown
		res.Err = err
		return res
	case err != nil:
		res.Outcome = OutcomeLookupFailed
		res.Err = err
		return res
	}

	res.Entry = entry
	if !entry.Usable(r.now()) {
		res.Outcome = OutcomeInactive
		res.Err = ErrInactiveTenant
		return res
	}
	res.Outcome = OutcomeBound
	return res
}
