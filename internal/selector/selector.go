// Package selector turns a directional signal into a concrete option
// contract: it resolves the expiry policy to a listing week, then walks the
// strike ladder away from spot until the contract premium stops closing in
// on the configured target.
package selector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/Hdkhatri/niftyflow/internal/domain"
	"github.com/Hdkhatri/niftyflow/internal/instruments"
)

const (
	strikeStep = 100
	// walk bound; a healthy chain converges within a handful of strikes
	maxWalk = 40
)

// Pick is a selected contract with the premium it was chosen at.
type Pick struct {
	Contract domain.OptionContract
	Premium  float64
}

// Selector searches the option chain. It holds the instrument universe and a
// quote source; both are safe for concurrent use, so one Selector serves all
// strategy loops.
type Selector struct {
	universe *instruments.Universe
	quotes   domain.QuoteService
	now      func() time.Time
	logger   *slog.Logger
}

func New(u *instruments.Universe, quotes domain.QuoteService, logger *slog.Logger) *Selector {
	return &Selector{
		universe: u,
		quotes:   quotes,
		now:      time.Now,
		logger:   logger.With(slog.String("component", "selector")),
	}
}

// legType maps a spot signal to the option leg that gets sold: a buy signal
// shorts puts, a sell signal shorts calls.
func legType(side domain.Side) domain.OptionType {
	if side == domain.SideBuy {
		return domain.OptionTypePE
	}
	return domain.OptionTypeCE
}

// stepFor returns the ladder direction, away from the money for the leg type.
func stepFor(typ domain.OptionType) int {
	if typ == domain.OptionTypePE {
		return -strikeStep
	}
	return strikeStep
}

// OptimalContract finds the contract whose premium sits closest to target.
// The walk starts one step out from the at-the-money strike and moves further
// out while each strike's premium improves on the previous one's distance to
// target; the first non-improvement ends the search.
func (s *Selector) OptimalContract(ctx context.Context, name string, spot float64, side domain.Side, policy domain.ExpiryPolicy, target float64) (Pick, error) {
	typ := legType(side)
	nominal, err := TargetExpiry(s.now(), policy)
	if err != nil {
		return Pick{}, err
	}
	from, to := Window(nominal)

	step := stepFor(typ)
	strike := int(math.Round(spot/strikeStep)) * strikeStep

	var best Pick
	found := false
	for i := 0; i < maxWalk; i++ {
		strike += step
		in, ok := s.universe.Option(name, strike, typ, from, to)
		if !ok {
			break
		}
		ltp, err := s.quotes.Quote(ctx, in.Symbol)
		if err != nil {
			if errors.Is(err, domain.ErrNoQuote) {
				continue
			}
			return Pick{}, fmt.Errorf("selector: quote %s: %w", in.Symbol, err)
		}
		if found && math.Abs(ltp-target) >= math.Abs(best.Premium-target) {
			break
		}
		best = Pick{Contract: in.Contract(), Premium: ltp}
		found = true
	}
	if !found {
		return Pick{}, fmt.Errorf("selector: %s %s near %.0f in week of %s: %w",
			name, typ, spot, nominal.Format("2006-01-02"), domain.ErrNoContract)
	}
	s.logger.Debug("contract selected",
		slog.String("symbol", best.Contract.Symbol),
		slog.Float64("premium", best.Premium),
		slog.Float64("target", target))
	return best, nil
}

// HedgeContract picks the protective long leg for a primary short leg. Offset
// hedges sit a fixed strike distance further out on the same expiry; the
// premium hedge reuses the target walk with the hedge's own target.
func (s *Selector) HedgeContract(ctx context.Context, primary domain.OptionContract, hedge domain.HedgeType, spot, target float64) (Pick, error) {
	switch hedge {
	case domain.HedgeNone:
		return Pick{}, fmt.Errorf("selector: hedge disabled: %w", domain.ErrNoContract)
	case domain.HedgePremium:
		side := domain.SideBuy
		if primary.Type == domain.OptionTypeCE {
			side = domain.SideSell
		}
		return s.optimalAt(ctx, primary, side, spot, target)
	}

	strike := primary.Strike - hedge.StrikeOffset()
	if primary.Type == domain.OptionTypeCE {
		strike = primary.Strike + hedge.StrikeOffset()
	}
	in, ok := s.universe.Option(primary.Name, strike, primary.Type, primary.Expiry, primary.Expiry)
	if !ok {
		return Pick{}, fmt.Errorf("selector: hedge %s %d %s: %w",
			primary.Name, strike, primary.Type, domain.ErrNoContract)
	}
	ltp, err := s.quotes.Quote(ctx, in.Symbol)
	if err != nil {
		return Pick{}, fmt.Errorf("selector: hedge quote %s: %w", in.Symbol, err)
	}
	return Pick{Contract: in.Contract(), Premium: ltp}, nil
}

// optimalAt runs the premium walk pinned to the primary leg's exact expiry.
func (s *Selector) optimalAt(ctx context.Context, primary domain.OptionContract, side domain.Side, spot, target float64) (Pick, error) {
	typ := legType(side)
	step := stepFor(typ)
	strike := int(math.Round(spot/strikeStep)) * strikeStep

	var best Pick
	found := false
	for i := 0; i < maxWalk; i++ {
		strike += step
		in, ok := s.universe.Option(primary.Name, strike, typ, primary.Expiry, primary.Expiry)
		if !ok {
			break
		}
		ltp, err := s.quotes.Quote(ctx, in.Symbol)
		if err != nil {
			if errors.Is(err, domain.ErrNoQuote) {
				continue
			}
			return Pick{}, fmt.Errorf("selector: quote %s: %w", in.Symbol, err)
		}
		if found && math.Abs(ltp-target) >= math.Abs(best.Premium-target) {
			break
		}
		best = Pick{Contract: in.Contract(), Premium: ltp}
		found = true
	}
	if !found {
		return Pick{}, fmt.Errorf("selector: hedge walk %s: %w", primary.Name, domain.ErrNoContract)
	}
	return best, nil
}

// NextExpiryContract rolls a leg forward after a target exit: the strike walk
// again, but pinned to the nearest listed expiry strictly after the old one.
// Premiums shrink as the walk moves out, so the search remembers the last
// strike priced above target, stops at the first priced at or below it, and
// returns whichever of the two sits closer. Dead and missing quotes are
// skipped.
func (s *Selector) NextExpiryContract(ctx context.Context, name string, spot float64, side domain.Side, lastExpiry time.Time, target float64) (Pick, error) {
	typ := legType(side)
	expiry, ok := s.universe.NextExpiry(name, typ, lastExpiry)
	if !ok {
		return Pick{}, fmt.Errorf("selector: no expiry after %s for %s %s: %w",
			lastExpiry.Format("2006-01-02"), name, typ, domain.ErrNoContract)
	}

	step := stepFor(typ)
	strike := int(math.Round(spot/strikeStep)) * strikeStep

	var above Pick
	haveAbove := false
	for i := 0; i < maxWalk; i++ {
		strike += step
		in, ok := s.universe.Option(name, strike, typ, expiry, expiry)
		if !ok {
			break
		}
		ltp, err := s.quotes.Quote(ctx, in.Symbol)
		if err != nil {
			if errors.Is(err, domain.ErrNoQuote) {
				continue
			}
			return Pick{}, fmt.Errorf("selector: quote %s: %w", in.Symbol, err)
		}
		if ltp == 0 {
			continue
		}
		cur := Pick{Contract: in.Contract(), Premium: ltp}
		if ltp > target {
			above = cur
			haveAbove = true
			continue
		}
		// ties go to the above-target strike
		if haveAbove && math.Abs(above.Premium-target) <= math.Abs(ltp-target) {
			return above, nil
		}
		return cur, nil
	}
	if haveAbove {
		return above, nil
	}
	return Pick{}, fmt.Errorf("selector: rollover walk %s %s for %s: %w",
		name, typ, expiry.Format("2006-01-02"), domain.ErrNoContract)
}
