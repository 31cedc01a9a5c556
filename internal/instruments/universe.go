// Package instruments loads the broker's daily instrument dump and answers
// contract lookups against it: option chains by underlying, strike and
// expiry, plus lot sizes and index tokens for the candle feed.
package instruments

import (
	"encoding/csv"
	"fmt"
	"io"
	"sort"
	"strconv"
	"time"

	"github.com/Hdkhatri/niftyflow/internal/domain"
)

// Instrument is one row of the dump. Token identifies the instrument on the
// streaming feed and the historical candle API.
type Instrument struct {
	Token    int64
	Symbol   string
	Name     string
	Expiry   time.Time
	Strike   int
	Type     domain.OptionType
	Segment  string
	Exchange string
	LotSize  int
}

// Contract converts the row to its domain form.
func (in Instrument) Contract() domain.OptionContract {
	return domain.OptionContract{
		Symbol:  in.Symbol,
		Name:    in.Name,
		Segment: in.Segment,
		Strike:  in.Strike,
		Type:    in.Type,
		Expiry:  in.Expiry,
		LotSize: in.LotSize,
	}
}

// Universe is an in-memory index over the dump. It is immutable after Load
// and safe for concurrent readers.
type Universe struct {
	options  map[string][]Instrument // underlying name -> option rows, expiry asc
	byToken  map[int64]Instrument
	bySymbol map[string]Instrument
}

// column order of the broker dump
const (
	colToken = iota
	colExchangeToken
	colSymbol
	colName
	colLastPrice
	colExpiry
	colStrike
	colTickSize
	colLotSize
	colType
	colSegment
	colExchange
	colCount
)

// Load parses the CSV dump. Rows that are not CE/PE options are still kept
// in the token and symbol indexes so index instruments stay resolvable.
func Load(r io.Reader) (*Universe, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = colCount

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("instruments: read header: %w", err)
	}
	if header[colToken] != "instrument_token" {
		return nil, fmt.Errorf("instruments: unexpected header %q", header[colToken])
	}

	u := &Universe{
		options:  make(map[string][]Instrument),
		byToken:  make(map[int64]Instrument),
		bySymbol: make(map[string]Instrument),
	}
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("instruments: line %d: %w", line, err)
		}
		in, err := parseRow(rec)
		if err != nil {
			return nil, fmt.Errorf("instruments: line %d: %w", line, err)
		}
		u.byToken[in.Token] = in
		u.bySymbol[in.Symbol] = in
		if in.Type == domain.OptionTypeCE || in.Type == domain.OptionTypePE {
			u.options[in.Name] = append(u.options[in.Name], in)
		}
	}
	for name := range u.options {
		rows := u.options[name]
		sort.Slice(rows, func(i, j int) bool {
			if !rows[i].Expiry.Equal(rows[j].Expiry) {
				return rows[i].Expiry.Before(rows[j].Expiry)
			}
			return rows[i].Strike < rows[j].Strike
		})
	}
	return u, nil
}

func parseRow(rec []string) (Instrument, error) {
	token, err := strconv.ParseInt(rec[colToken], 10, 64)
	if err != nil {
		return Instrument{}, fmt.Errorf("token %q: %w", rec[colToken], err)
	}
	strike := 0
	if rec[colStrike] != "" && rec[colStrike] != "0" {
		f, err := strconv.ParseFloat(rec[colStrike], 64)
		if err != nil {
			return Instrument{}, fmt.Errorf("strike %q: %w", rec[colStrike], err)
		}
		strike = int(f)
	}
	lot := 0
	if rec[colLotSize] != "" {
		lot, err = strconv.Atoi(rec[colLotSize])
		if err != nil {
			return Instrument{}, fmt.Errorf("lot size %q: %w", rec[colLotSize], err)
		}
	}
	var expiry time.Time
	if rec[colExpiry] != "" {
		expiry, err = time.ParseInLocation("2006-01-02", rec[colExpiry], time.Local)
		if err != nil {
			return Instrument{}, fmt.Errorf("expiry %q: %w", rec[colExpiry], err)
		}
	}
	return Instrument{
		Token:    token,
		Symbol:   rec[colSymbol],
		Name:     rec[colName],
		Expiry:   expiry,
		Strike:   strike,
		Type:     domain.OptionType(rec[colType]),
		Segment:  rec[colSegment],
		Exchange: rec[colExchange],
		LotSize:  lot,
	}, nil
}

// Option finds the contract for (name, strike, type) expiring inside the
// [from, to] window. The earliest matching expiry wins.
func (u *Universe) Option(name string, strike int, typ domain.OptionType, from, to time.Time) (Instrument, bool) {
	for _, in := range u.options[name] {
		if in.Strike != strike || in.Type != typ {
			continue
		}
		if in.Expiry.Before(from) || in.Expiry.After(to) {
			continue
		}
		return in, true
	}
	return Instrument{}, false
}

// NextExpiry returns the earliest listed expiry for (name, type) strictly
// after the given date.
func (u *Universe) NextExpiry(name string, typ domain.OptionType, after time.Time) (time.Time, bool) {
	var best time.Time
	found := false
	for _, in := range u.options[name] {
		if in.Type != typ || !in.Expiry.After(after) {
			continue
		}
		if !found || in.Expiry.Before(best) {
			best = in.Expiry
			found = true
		}
	}
	return best, found
}

// BySymbol resolves a trading symbol, index rows included.
func (u *Universe) BySymbol(symbol string) (Instrument, bool) {
	in, ok := u.bySymbol[symbol]
	return in, ok
}

// ByToken resolves a feed token.
func (u *Universe) ByToken(token int64) (Instrument, bool) {
	in, ok := u.byToken[token]
	return in, ok
}

// LotSize returns the contract lot for an underlying, taken from its nearest
// option row.
func (u *Universe) LotSize(name string) (int, error) {
	rows := u.options[name]
	if len(rows) == 0 {
		return 0, fmt.Errorf("instruments: no options for %q: %w", name, domain.ErrNoContract)
	}
	return rows[0].LotSize, nil
}
