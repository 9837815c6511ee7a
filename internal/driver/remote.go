package driver

import (
	"context"
	"fmt"
	"math/rand/v2"
	"net/http"
	"net/url"

	"github.com/wesleyorama2/matchload/internal/fixture"
)

// Remote batches several identifiers into one GET request.
type Remote struct {
	base
	maxBatch int
}

func (d *Remote) Kind() Kind { return KindRemote }

func (d *Remote) Name() string { return http.MethodGet + " " + MatchPath }

// MaxBatch returns the upper bound of identifiers per query.
func (d *Remote) MaxBatch() int { return d.maxBatch }

// Sample draws N uniformly from [1, MaxBatch], capped at the fixture size,
// takes N distinct rows and one field from each.
func (d *Remote) Sample(rng *rand.Rand) Query {
	n := 1 + rng.IntN(d.maxBatch)
	rows := sampleDistinct(rng, d.set.Len(), n)

	q := Query{
		Rows:   make([]int, 0, len(rows)),
		Fields: make([]fixture.Field, 0, len(rows)),
		Terms:  make([]string, 0, len(rows)),
	}
	for _, i := range rows {
		f := d.pickField(rng)
		q.add(i, f, d.set.Row(i).Get(f))
	}
	return q
}

// Build sends the space-joined terms as the q parameter.
func (d *Remote) Build(ctx context.Context, q Query) (*http.Request, error) {
	if len(q.Terms) == 0 {
		return nil, fmt.Errorf("remote driver: empty query")
	}

	params := url.Values{}
	params.Set("q", q.Joined())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.host+MatchPath+"?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}
	d.decorate(req)
	return req, nil
}

func (d *Remote) NewRequest(ctx context.Context, rng *rand.Rand) (*http.Request, error) {
	return d.Build(ctx, d.Sample(rng))
}

var _ Driver = (*Remote)(nil)
