package provider

import (
	"context"
	"errors"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/skiptrace/internal/model"
)

// stubProvider implements Provider for registry tests.
type stubProvider struct {
	name string
	tier model.ProviderTier
}

func (s *stubProvider) Name() string             { return s.name }
func (s *stubProvider) Tier() model.ProviderTier { return s.tier }
func (s *stubProvider) CostCents() int64         { return 0 }
func (s *stubProvider) Lookup(context.Context, string) (*LookupResult, error) {
	return &LookupResult{}, nil
}

func TestRegistry_ChainOrder(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(&stubProvider{name: "batchdata", tier: model.TierPrimary}))
	require.NoError(t, r.Register(&stubProvider{name: "skipgenie", tier: model.TierSecondary}))
	require.NoError(t, r.Register(&stubProvider{name: "county-records", tier: model.TierFree}))

	assert.Equal(t, []string{"batchdata", "skipgenie", "county-records"}, r.List())
	assert.Equal(t, 3, r.Len())

	chain := r.Chain()
	require.Len(t, chain, 3)
	assert.Equal(t, model.TierFree, chain[2].Tier())
	assert.Equal(t, "skipgenie", r.Get("skipgenie").Name())
	assert.Nil(t, r.Get("nope"))
}

func TestRegistry_DuplicateName(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(&stubProvider{name: "batchdata"}))
	err := r.Register(&stubProvider{name: "batchdata"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "registered twice")
	assert.Equal(t, 1, r.Len())
}

func TestLookupResult_Empty(t *testing.T) {
	var nilRes *LookupResult
	assert.True(t, nilRes.Empty())
	assert.True(t, (&LookupResult{}).Empty())
	assert.False(t, (&LookupResult{Emails: []model.Email{{Address: "a@b.co"}}}).Empty())
}

func TestFailure_ReasonAndRetryable(t *testing.T) {
	tests := []struct {
		name      string
		f         *Failure
		reason    string
		retryable bool
	}{
		{"timeout", &Failure{Kind: KindTimeout}, "timeout", true},
		{"transport", &Failure{Kind: KindTransport}, "transport", true},
		{"503", &Failure{Kind: KindHTTP, StatusCode: 503}, "http_503", true},
		{"429", &Failure{Kind: KindHTTP, StatusCode: 429}, "http_429", true},
		{"404", &Failure{Kind: KindHTTP, StatusCode: 404}, "http_404", false},
		{"malformed", &Failure{Kind: KindMalformed}, "malformed", false},
		{"no match", &Failure{Kind: KindNoMatch}, "no_match", false},
		{"circuit", &Failure{Kind: KindCircuitOpen}, "circuit_open", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.reason, tt.f.Reason())
			assert.Equal(t, tt.retryable, tt.f.Retryable())
		})
	}
}

func TestFailure_ErrorAndUnwrap(t *testing.T) {
	cause := errors.New("boom")
	f := &Failure{Provider: "skipgenie", Kind: KindHTTP, StatusCode: 500, Err: cause}
	assert.Equal(t, "provider skipgenie: http_500: boom", f.Error())
	assert.ErrorIs(t, f, cause)

	wrapped := eris.Wrap(f, "waterfall: lookup")
	got, ok := AsFailure(wrapped)
	require.True(t, ok)
	assert.Equal(t, 500, got.StatusCode)

	_, ok = AsFailure(errors.New("plain"))
	assert.False(t, ok)
}

func TestClassify(t *testing.T) {
	assert.Equal(t, KindTimeout, classify("p", context.DeadlineExceeded).Kind)
	assert.Equal(t, KindTransport, classify("p", errors.New("connection refused")).Kind)

	existing := &Failure{Provider: "p", Kind: KindMalformed}
	assert.Same(t, existing, classify("p", existing))
}
