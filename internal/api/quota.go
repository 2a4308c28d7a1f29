package api

import (
	"net/http"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/skiptrace/internal/model"
	"github.com/sells-group/skiptrace/internal/runner"
)

const defaultAnalyticsDays = 30

// quotaView is the budget window status. RemainingLookups is how many
// worst-case lookups still fit, -1 when unbounded.
type quotaView struct {
	LimitCents       int64     `json:"limitCents"`
	SpentCents       int64     `json:"spentCents"`
	ReservedCents    int64     `json:"reservedCents"`
	RemainingCents   int64     `json:"remainingCents"`
	RemainingLookups int64     `json:"remainingLookups"`
	Unlimited        bool      `json:"unlimited"`
	SoftPaused       bool      `json:"softPaused"`
	WindowStart      time.Time `json:"windowStart"`
	WindowEnd        time.Time `json:"windowEnd"`
}

func newQuotaView(q model.Quota, m *runner.Manager) quotaView {
	return quotaView{
		LimitCents:       q.LimitCents,
		SpentCents:       q.SpentCents,
		ReservedCents:    q.ReservedCents,
		RemainingCents:   q.RemainingCents,
		RemainingLookups: q.Lookups(m.MaxLookupCents()),
		Unlimited:        q.Unlimited,
		SoftPaused:       q.SoftPaused,
		WindowStart:      q.WindowStart,
		WindowEnd:        q.WindowEnd,
	}
}

func (s *server) quota(w http.ResponseWriter, r *http.Request) {
	q, err := s.Manager.Guard().Quota(r.Context())
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeData(w, newQuotaView(q, s.Manager))
}

// resetQuota clears an operator-visible soft pause.
func (s *server) resetQuota(w http.ResponseWriter, r *http.Request) {
	g := s.Manager.Guard()
	if err := g.Reset(r.Context()); err != nil {
		writeErr(w, r, err)
		return
	}
	q, err := g.Quota(r.Context())
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{Success: true, Message: "soft pause cleared", Data: newQuotaView(q, s.Manager)})
}

// analytics reports spend for startDate..endDate inclusive, both
// YYYY-MM-DD in the budget time zone. The range defaults to the last 30
// days ending today.
func (s *server) analytics(w http.ResponseWriter, r *http.Request) {
	loc := s.Manager.Guard().Location()
	today, _ := s.Manager.Guard().WindowFor(time.Now())

	end, err := dateParam(r, "endDate", loc, today)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	start, err := dateParam(r, "startDate", loc, end.AddDate(0, 0, -(defaultAnalyticsDays-1)))
	if err != nil {
		writeErr(w, r, err)
		return
	}
	if end.Before(start) {
		writeErr(w, r, eris.Wrap(runner.ErrValidation, "endDate is before startDate"))
		return
	}

	a, err := s.Reports.Analytics(r.Context(), start, end.AddDate(0, 0, 1))
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeData(w, a)
}

func dateParam(r *http.Request, name string, loc *time.Location, def time.Time) (time.Time, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	t, err := time.ParseInLocation(time.DateOnly, raw, loc)
	if err != nil {
		return time.Time{}, eris.Wrapf(runner.ErrValidation, "%s must be YYYY-MM-DD", name)
	}
	return t, nil
}
