// Package waterfall walks the provider chain for a lead until one provider
// returns contact data.
package waterfall

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/skiptrace/internal/cost"
	"github.com/sells-group/skiptrace/internal/model"
	"github.com/sells-group/skiptrace/internal/resilience"
	"github.com/sells-group/skiptrace/internal/store"
	"github.com/sells-group/skiptrace/internal/waterfall/provider"
)

// ExhaustedError is returned by Trace when every provider in the chain
// failed or was skipped.
type ExhaustedError struct {
	LeadID string
	// Last is the failure of the final provider tried, nil for an empty chain.
	Last *provider.Failure
	// Attempts counts providers actually invoked.
	Attempts int
}

func (e *ExhaustedError) Error() string {
	if e.Last == nil {
		return model.ReasonExhausted
	}
	return fmt.Sprintf("%s: %s %s", model.ReasonExhausted, e.Last.Provider, e.Last.Reason())
}

// AsExhausted extracts an *ExhaustedError from err's chain.
func AsExhausted(err error) (*ExhaustedError, bool) {
	var e *ExhaustedError
	ok := errors.As(err, &e)
	return e, ok
}

// Outcome is the result of a trace. On error Result is nil, but CostCents
// and Calls still report what was billed before the failure.
type Outcome struct {
	Result    *model.EnrichmentResult
	CostCents int64
	Calls     []model.ProviderCall
}

// Orchestrator runs the chain and books every invocation in the ledger.
type Orchestrator struct {
	registry *provider.Registry
	ledger   store.Ledger
	breakers *resilience.Breakers
	calc     *cost.Calculator

	// nowFunc allows test injection of time.
	nowFunc func() time.Time
}

// NewOrchestrator creates an Orchestrator. breakers may be nil to disable
// circuit breaking. Prices come from each provider's CostCents.
func NewOrchestrator(reg *provider.Registry, ledger store.Ledger, breakers *resilience.Breakers) *Orchestrator {
	rates := make(cost.Rates, reg.Len())
	for _, p := range reg.Chain() {
		rates[p.Name()] = p.CostCents()
	}
	return &Orchestrator{
		registry: reg,
		ledger:   ledger,
		breakers: breakers,
		calc:     cost.NewCalculator(rates),
		nowFunc:  time.Now,
	}
}

// Providers returns the chain's provider names in order.
func (o *Orchestrator) Providers() []string { return o.registry.List() }

// MaxLookupCents is the most a single lead can cost.
func (o *Orchestrator) MaxLookupCents() int64 { return o.calc.MaxLookup() }

// Calculator exposes the chain's price list.

// Breakers returns the breaker registry, which may be nil.
func (o *Orchestrator) Breakers() *resilience.Breakers { return o.breakers }

// Trace asks each provider in order for the lead's contacts. The first
// success is persisted as the lead's current result and no further
// providers are called.
func (o *Orchestrator) Trace(ctx context.Context, runID string, lead *model.Lead) (*Outcome, error) {
	log := zap.L().With(
		zap.String("component", "waterfall"),
		zap.String("run_id", runID),
		zap.String("lead_id", lead.ID),
	)

	var (
		calls []model.ProviderCall
		last  *provider.Failure
	)
	for _, p := range o.registry.Chain() {
		name := p.Name()

		var br *resilience.Breaker
		if o.breakers != nil {
			br = o.breakers.For(name)
			if err := br.Allow(); err != nil {
				log.Debug("waterfall: provider skipped, circuit open", zap.String("provider", name))
				last = &provider.Failure{Provider: name, Kind: provider.KindCircuitOpen, Err: err}
				continue
			}
		}

		start := o.nowFunc()
		res, lookupErr := p.Lookup(ctx, lead.Address)
		ok := lookupErr == nil

		var f *provider.Failure
		if !ok {
			var isFailure bool
			if f, isFailure = provider.AsFailure(lookupErr); !isFailure {
				f = &provider.Failure{Provider: name, Kind: provider.KindTransport, Err: lookupErr}
			}
		}
		if br != nil {
			// A clean "no match" says nothing about provider health.
			br.Record(ok || f.Kind == provider.KindNoMatch)
		}

		call := model.ProviderCall{
			RunID:     runID,
			LeadID:    lead.ID,
			Provider:  name,
			Tier:      p.Tier(),
			CostCents: o.calc.Charge(name, ok),
			Succeeded: ok,
		}
		if f != nil {
			call.ErrorReason = f.Reason()
		}
		if err := o.ledger.RecordProviderCall(ctx, &call); err != nil {
			return &Outcome{CostCents: call.CostCents, Calls: calls}, eris.Wrapf(err, "waterfall: record call to %s", name)
		}
		calls = append(calls, call)

		if !ok {
			log.Info("waterfall: provider failed, advancing",
				zap.String("provider", name),
				zap.String("reason", f.Reason()),
				zap.Duration("elapsed", o.nowFunc().Sub(start)),
				zap.Error(f.Err),
			)
			last = f
			continue
		}

		if res == nil {
			res = &provider.LookupResult{}
		}
		result := &model.EnrichmentResult{
			LeadID:       lead.ID,
			Phones:       res.Phones,
			Emails:       res.Emails,
			Provider:     p.Tier(),
			ProviderName: name,
			CostCents:    call.CostCents,
			ResolvedAt:   o.nowFunc().UTC(),
		}
		if err := o.ledger.UpsertResult(ctx, result); err != nil {
			return &Outcome{CostCents: call.CostCents, Calls: calls}, eris.Wrapf(err, "waterfall: save result for lead %s", lead.ID)
		}

		log.Info("waterfall: lead resolved",
			zap.String("provider", name),
			zap.Int("phones", len(result.Phones)),
			zap.Int("emails", len(result.Emails)),
			zap.Int64("cost_cents", call.CostCents),
			zap.Duration("elapsed", o.nowFunc().Sub(start)),
		)
		return &Outcome{Result: result, CostCents: call.CostCents, Calls: calls}, nil
	}

	return &Outcome{Calls: calls}, &ExhaustedError{LeadID: lead.ID, Last: last, Attempts: len(calls)}
}
