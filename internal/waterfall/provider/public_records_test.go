package provider

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/skiptrace/internal/model"
)

func TestPublicRecords_Lookup(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/search", r.URL.Path)
		assert.Equal(t, "45 ELM AVE", r.URL.Query().Get("address"))
		assert.Empty(t, r.Header.Get("Authorization"))

		_, _ = w.Write([]byte(`{"records": [
			{"phone": "512 555 0199"},
			{"email": "owner@example.com", "confidence": 0.6},
			{"phone": "not a phone", "email": ""}
		]}`))
	}))
	defer srv.Close()

	p := NewPublicRecords(Spec{Name: "county-records", Tier: model.TierFree, BaseURL: srv.URL})
	assert.Equal(t, int64(0), p.CostCents())

	res, err := p.Lookup(context.Background(), "45 Elm Ave")
	require.NoError(t, err)
	assert.Equal(t, []model.Phone{{Number: "5125550199", Confidence: publicRecordConfidence}}, res.Phones)
	assert.Equal(t, []model.Email{{Address: "owner@example.com", Confidence: 0.6}}, res.Emails)
}

func TestPublicRecords_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "down for maintenance", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	p := NewPublicRecords(Spec{Name: "county-records", Tier: model.TierFree, BaseURL: srv.URL})
	_, err := p.Lookup(context.Background(), "45 Elm Ave")
	f, ok := AsFailure(err)
	require.True(t, ok)
	assert.Equal(t, "http_503", f.Reason())
	assert.Contains(t, f.Error(), "down for maintenance")
}
