package provider

import (
	"context"
	"net/http"

	"github.com/sells-group/skiptrace/internal/model"
)

// REST is a paid skip-trace API that accepts POST /lookup with an address
// and answers with scored phones and emails.
type REST struct {
	*client
}

type restRequest struct {
	Address string `json:"address"`
}

type restResponse struct {
	Phones []struct {
		Number     string  `json:"number"`
		Type       string  `json:"type"`
		Confidence float64 `json:"confidence"`
		DNC        bool    `json:"dnc"`
		Litigator  bool    `json:"litigator"`
	} `json:"phones"`
	Emails []struct {
		Address    string  `json:"address"`
		Confidence float64 `json:"confidence"`
	} `json:"emails"`
}

// NewREST creates a REST adapter.
func NewREST(spec Spec, opts ...Option) *REST {
	return &REST{client: newClient(spec, opts...)}
}

// Lookup implements Provider.
func (p *REST) Lookup(ctx context.Context, address string) (*LookupResult, error) {
	var resp restResponse
	err := p.do(ctx, request{
		method: http.MethodPost,
		path:   "/lookup",
		body:   restRequest{Address: NormalizeAddress(address)},
	}, &resp)
	if err != nil {
		return nil, err
	}

	res := &LookupResult{}
	for _, ph := range resp.Phones {
		res.Phones = append(res.Phones, model.Phone{
			Number:      ph.Number,
			Type:        ph.Type,
			Confidence:  ph.Confidence,
			IsDNC:       ph.DNC,
			IsLitigator: ph.Litigator,
		})
	}
	for _, em := range resp.Emails {
		res.Emails = append(res.Emails, model.Email{Address: em.Address, Confidence: em.Confidence})
	}
	return p.finish(res)
}
