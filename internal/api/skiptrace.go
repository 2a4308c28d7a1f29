package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rotisserie/eris"

	"github.com/sells-group/skiptrace/internal/budget"
	"github.com/sells-group/skiptrace/internal/model"
	"github.com/sells-group/skiptrace/internal/runner"
)

// traceView is the contact payload for one lead. Cost is in cents and is
// what this request spent.
type traceView struct {
	LeadID     string        `json:"leadId"`
	Phones     []model.Phone `json:"phones"`
	Emails     []model.Email `json:"emails"`
	Cached     bool          `json:"cached"`
	Cost       int64         `json:"cost"`
	Provider   string        `json:"provider,omitempty"`
	Tier       string        `json:"tier,omitempty"`
	ResolvedAt *time.Time    `json:"resolvedAt,omitempty"`
}

func newTraceView(leadID string, r *model.EnrichmentResult, cached bool, costCents int64) traceView {
	v := traceView{
		LeadID: leadID,
		Phones: []model.Phone{},
		Emails: []model.Email{},
		Cached: cached,
		Cost:   costCents,
	}
	if r == nil {
		return v
	}
	if r.Phones != nil {
		v.Phones = r.Phones
	}
	if r.Emails != nil {
		v.Emails = r.Emails
	}
	v.Provider = r.ProviderName
	v.Tier = string(r.Provider)
	resolved := r.ResolvedAt
	v.ResolvedAt = &resolved
	return v
}

// itemView is one row of a bulk response.
type itemView struct {
	traceView
	Success bool             `json:"success"`
	Status  model.ItemStatus `json:"status"`
	Error   string           `json:"error,omitempty"`
}

type bulkRequest struct {
	LeadIDs     []string `json:"leadIds" validate:"required,min=1,dive,required"`
	Force       bool     `json:"force"`
	SourceLabel string   `json:"sourceLabel" validate:"max=128"`
}

type bulkResponse struct {
	RunID      string           `json:"runId"`
	Results    []itemView       `json:"results"`
	Successes  int              `json:"successes"`
	Failures   int              `json:"failures"`
	Skipped    int              `json:"skipped"`
	TotalCost  int64            `json:"totalCost"`
	Quota      quotaView        `json:"quota"`
	Summary    model.ItemCounts `json:"summary"`
	SoftPaused bool             `json:"softPaused"`
	Estimate   *runner.Estimate `json:"estimate,omitempty"`
}

type preflightView struct {
	Estimate runner.Estimate `json:"estimate"`
	Quota    quotaView       `json:"quota"`
}

// traceLead runs a synchronous single-lead trace.
func (s *server) traceLead(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	force, err := boolParam(r, "force")
	if err != nil {
		writeErr(w, r, err)
		return
	}

	item, err := s.Manager.TraceLead(r.Context(), id, force)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeData(w, newTraceView(item.LeadID, item.Result, item.Cached, item.CostCents))
}

// getResult returns the lead's current result without tracing.
func (s *server) getResult(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.Store.GetLead(r.Context(), id); err != nil {
		writeErr(w, r, err)
		return
	}
	res, err := s.Store.GetCurrent(r.Context(), id)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeData(w, newTraceView(id, res, res != nil, 0))
}

// bulkTrace runs a batch after checking its worst-case cost against the
// remaining quota.
func (s *server) bulkTrace(w http.ResponseWriter, r *http.Request) {
	var req bulkRequest
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, r, err)
		return
	}
	if err := s.validate.Struct(req); err != nil {
		writeErr(w, r, eris.Wrap(runner.ErrValidation, err.Error()))
		return
	}

	ctx := r.Context()
	est, q, err := s.Manager.Preflight(ctx, req.LeadIDs, req.Force)
	if errors.Is(err, budget.ErrBudgetExceeded) {
		writeJSON(w, http.StatusTooManyRequests, envelope{
			Message:   err.Error(),
			Error:     "budget_exceeded",
			Data:      preflightView{Estimate: est, Quota: newQuotaView(q, s.Manager)},
			RequestID: middleware.GetReqID(ctx),
		})
		return
	}
	if err != nil {
		writeErr(w, r, err)
		return
	}

	res, err := s.Manager.Submit(ctx, req.LeadIDs, runner.SubmitOptions{
		SourceLabel: req.SourceLabel,
		Force:       req.Force,
	})
	if err != nil {
		writeErr(w, r, err)
		return
	}

	out := bulkResponse{
		RunID:      res.RunID,
		Results:    make([]itemView, 0, len(res.Items)),
		TotalCost:  res.TotalCostCents,
		Summary:    res.Summary.ItemCounts,
		SoftPaused: res.Summary.SoftPaused,
		Estimate:   &est,
	}
	for _, it := range res.Items {
		v := itemView{
			traceView: newTraceView(it.LeadID, it.Result, it.Cached, it.CostCents),
			Success:   it.Status == model.ItemDone,
			Status:    it.Status,
		}
		if v.Success {
			out.Successes++
		} else {
			out.Failures++
			v.Error = it.Reason
			if it.Err != nil && it.Reason == model.ReasonExhausted {
				v.Error = it.Err.Error()
			}
		}
		out.Results = append(out.Results, v)
	}
	out.Skipped = est.Leads - len(res.Items)

	if q, err = s.Manager.Guard().Quota(ctx); err != nil {
		writeErr(w, r, err)
		return
	}
	out.Quota = newQuotaView(q, s.Manager)

	writeJSON(w, http.StatusOK, envelope{
		Success: out.Successes > 0,
		Message: fmt.Sprintf("traced %d of %d leads", out.Successes, est.Leads),
		Data:    out,
	})
}

func boolParam(r *http.Request, name string) (bool, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return false, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, eris.Wrapf(runner.ErrValidation, "%s must be a boolean", name)
	}
	return v, nil
}
