package driver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"net/http"
)

// Local posts a single identifier per request.
type Local struct {
	base
}

// localPayload is the JSON body of a local match request.
type localPayload struct {
	Queries string `json:"queries"`
}

func (d *Local) Kind() Kind { return KindLocal }

func (d *Local) Name() string { return http.MethodPost + " " + MatchPath }

// Sample picks one row and one of its identifier fields.
func (d *Local) Sample(rng *rand.Rand) Query {
	i := rng.IntN(d.set.Len())
	f := d.pickField(rng)

	var q Query
	q.add(i, f, d.set.Row(i).Get(f))
	return q
}

// Build encodes the first term as {"queries": <term>} and posts it.
func (d *Local) Build(ctx context.Context, q Query) (*http.Request, error) {
	if len(q.Terms) == 0 {
		return nil, fmt.Errorf("local driver: empty query")
	}

	var body bytes.Buffer
	enc := json.NewEncoder(&body)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(localPayload{Queries: q.Terms[0]}); err != nil {
		return nil, fmt.Errorf("failed to encode payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.host+MatchPath, &body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	d.decorate(req)
	return req, nil
}

func (d *Local) NewRequest(ctx context.Context, rng *rand.Rand) (*http.Request, error) {
	return d.Build(ctx, d.Sample(rng))
}

var _ Driver = (*Local)(nil)
