package provider

import (
	"context"
	"net/http"
	"net/url"

	"github.com/sells-group/skiptrace/internal/model"
)

// publicRecordConfidence is assigned to contacts from unscored sources.
const publicRecordConfidence = 0.4

// PublicRecords is the free fallback: a county/public-record search that
// returns unscored owner contact rows.
type PublicRecords struct {
	*client
}

type publicRecordsResponse struct {
	Records []struct {
		Phone      string  `json:"phone"`
		Email      string  `json:"email"`
		Confidence float64 `json:"confidence"`
	} `json:"records"`
}

// NewPublicRecords creates a public-records adapter.
func NewPublicRecords(spec Spec, opts ...Option) *PublicRecords {
	return &PublicRecords{client: newClient(spec, opts...)}
}

// Lookup implements Provider.
func (p *PublicRecords) Lookup(ctx context.Context, address string) (*LookupResult, error) {
	var resp publicRecordsResponse
	err := p.do(ctx, request{
		method: http.MethodGet,
		path:   "/search",
		query:  url.Values{"address": {NormalizeAddress(address)}},
	}, &resp)
	if err != nil {
		return nil, err
	}

	res := &LookupResult{}
	for _, rec := range resp.Records {
		conf := rec.Confidence
		if conf <= 0 {
			conf = publicRecordConfidence
		}
		if rec.Phone != "" {
			res.Phones = append(res.Phones, model.Phone{Number: rec.Phone, Confidence: conf})
		}
		if rec.Email != "" {
			res.Emails = append(res.Emails, model.Email{Address: rec.Email, Confidence: conf})
		}
	}
	return p.finish(res)
}
