package source

import "context"

// Static returns a fixed value or error. Used for tests and for embedding a
// ruleset in code.
type Static struct {
	name string
	raw  any
	err  error
}

var _ Source = (*Static)(nil)

// NewStatic returns a source that always yields raw.
func NewStatic(name string, raw any) *Static {
	return &Static{name: name, raw: raw}
}

// NewFailing returns a source that always fails with err.
func NewFailing(name string, err error) *Static {
	return &Static{name: name, err: err}
}

// Name implements Source.
func (s *Static) Name() string { return s.name }

// FetchRawConfig implements Source.
func (s *Static) FetchRawConfig(ctx context.Context) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.err != nil {
		return nil, s.err
	}
	return s.raw, nil
}
