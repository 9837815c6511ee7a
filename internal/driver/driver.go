// Package driver builds the requests that exercise the CTS-Lite match endpoint.
//
// Two drivers exist:
//   - Local sends one identifier per request as a JSON POST body.
//   - Remote batches up to MaxBatch identifiers into the q parameter of a GET.
//
// A driver samples from a shared, read-only fixture.Set. Randomness comes from
// the caller's *rand.Rand so every virtual user can own its source.
package driver

import (
	"context"
	"fmt"
	"math/rand/v2"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/wesleyorama2/matchload/internal/fixture"
)

// Kind identifies a driver.
type Kind string

const (
	KindLocal  Kind = "local"
	KindRemote Kind = "remote"
)

const (
	// LocalHost is the default target of the local driver.
	LocalHost = "http://localhost:8080"

	// RemoteHost is the default target of the remote driver.
	RemoteHost = "https://cts-lite.metabolomics.us"

	// MatchPath is the endpoint both drivers hit.
	MatchPath = "/match"

	// DefaultMaxBatch is the largest number of identifiers in one remote query.
	DefaultMaxBatch = 40

	// RequestIDHeader carries a unique id per request for server-side tracing.
	RequestIDHeader = "X-Request-ID"

	maxFailureBody = 512
)

// LocalFields are the columns the local driver picks from.
var LocalFields = []fixture.Field{fixture.InChIKey, fixture.InChI, fixture.SMILES, fixture.MolecularFormula}

// RemoteFields are the columns the remote driver picks from. MolecularFormula
// is not among them.
var RemoteFields = []fixture.Field{fixture.InChIKey, fixture.SMILES, fixture.InChI}

// Query is the sampled input of one iteration.
type Query struct {
	// Rows are the fixture indexes the terms came from, in term order.
	Rows []int

	// Fields are the columns chosen for each row.
	Fields []fixture.Field

	// Terms are the identifier values.
	Terms []string
}

// Joined returns the terms separated by single spaces.
func (q Query) Joined() string {
	return strings.Join(q.Terms, " ")
}

func (q *Query) add(row int, field fixture.Field, term string) {
	q.Rows = append(q.Rows, row)
	q.Fields = append(q.Fields, field)
	q.Terms = append(q.Terms, term)
}

// Driver samples queries and turns them into HTTP requests.
type Driver interface {
	// Kind returns the driver kind.
	Kind() Kind

	// Name labels the request in metrics, e.g. "POST /match".
	Name() string

	// Sample draws a query from the fixture.
	Sample(rng *rand.Rand) Query

	// Build creates the HTTP request for a query.
	Build(ctx context.Context, q Query) (*http.Request, error)

	// NewRequest samples a query and builds its request.
	NewRequest(ctx context.Context, rng *rand.Rand) (*http.Request, error)

	// Evaluate decides whether a response counts as a success.
	Evaluate(status int, body []byte) (bool, string)
}

// Config configures a driver.
type Config struct {
	Kind Kind

	// Host is the scheme and authority of the target. Empty selects the
	// kind's default.
	Host string

	// Fields overrides the identifier columns to sample from.
	Fields []fixture.Field

	// MaxBatch bounds the number of identifiers per remote query.
	MaxBatch int

	// Headers are added to every request.
	Headers map[string]string

	// RequestIDs adds an X-Request-ID header to every request.
	RequestIDs bool
}

// New creates a driver over set.
func New(cfg Config, set *fixture.Set) (Driver, error) {
	if set.Len() == 0 {
		return nil, fmt.Errorf("driver: %w", fixture.ErrEmpty)
	}

	base := base{
		set:        set,
		headers:    cfg.Headers,
		requestIDs: cfg.RequestIDs,
	}

	switch cfg.Kind {
	case KindLocal:
		base.host = hostOrDefault(cfg.Host, LocalHost)
		base.fields = fieldsOrDefault(cfg.Fields, LocalFields)
		return &Local{base: base}, nil

	case KindRemote:
		maxBatch := cfg.MaxBatch
		if maxBatch <= 0 {
			maxBatch = DefaultMaxBatch
		}
		base.host = hostOrDefault(cfg.Host, RemoteHost)
		base.fields = fieldsOrDefault(cfg.Fields, RemoteFields)
		return &Remote{base: base, maxBatch: maxBatch}, nil

	default:
		return nil, fmt.Errorf("unknown driver kind: %q", cfg.Kind)
	}
}

// ParseKind converts a string into a Kind.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(strings.ToLower(strings.TrimSpace(s))); k {
	case KindLocal, KindRemote:
		return k, nil
	default:
		return "", fmt.Errorf("unknown driver kind: %q", s)
	}
}

// DefaultHost returns the default target of a driver kind.
func DefaultHost(k Kind) string {
	if k == KindRemote {
		return RemoteHost
	}
	return LocalHost
}

// Evaluate marks a response successful iff its status is 200. The body is
// not inspected for success.
func Evaluate(status int, body []byte) (bool, string) {
	if status == http.StatusOK {
		return true, ""
	}
	return false, fmt.Sprintf("Failed with status %d: %s", status, truncate(body, maxFailureBody))
}

// base carries what both drivers share.
type base struct {
	set        *fixture.Set
	host       string
	fields     []fixture.Field
	headers    map[string]string
	requestIDs bool
}

// Fields returns the columns the driver samples from.
func (b *base) Fields() []fixture.Field {
	out := make([]fixture.Field, len(b.fields))
	copy(out, b.fields)
	return out
}

// Host returns the target host.
func (b *base) Host() string {
	return b.host
}

func (b *base) Evaluate(status int, body []byte) (bool, string) {
	return Evaluate(status, body)
}

func (b *base) pickField(rng *rand.Rand) fixture.Field {
	return b.fields[rng.IntN(len(b.fields))]
}

func (b *base) decorate(req *http.Request) {
	for k, v := range b.headers {
		req.Header.Set(k, v)
	}
	if b.requestIDs {
		req.Header.Set(RequestIDHeader, uuid.NewString())
	}
}

func hostOrDefault(host, def string) string {
	if host == "" {
		host = def
	}
	return strings.TrimRight(host, "/")
}

func fieldsOrDefault(fields, def []fixture.Field) []fixture.Field {
	if len(fields) == 0 {
		fields = def
	}
	out := make([]fixture.Field, len(fields))
	copy(out, fields)
	return out
}

func truncate(body []byte, n int) string {
	s := strings.TrimSpace(string(body))
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
