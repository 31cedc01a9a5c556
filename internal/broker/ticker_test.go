package broker

import (
	"context"
	"encoding/binary"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memCache struct {
	prices map[string]float64
}

func (m *memCache) SetQuote(_ context.Context, symbol string, price float64, _ time.Time) error {
	if m.prices == nil {
		m.prices = make(map[string]float64)
	}
	m.prices[symbol] = price
	return nil
}

func (m *memCache) GetQuote(context.Context, string) (float64, time.Time, error) {
	return 0, time.Time{}, nil
}

type mapResolver map[int64]string

func (m mapResolver) Symbol(token int64) (string, bool) {
	s, ok := m[token]
	return s, ok
}

// ltpFrame builds a binary frame with the given (token, paise) packets.
func ltpFrame(packets ...[2]uint32) []byte {
	buf := make([]byte, 2)
	binary.BigEndian.PutUint16(buf, uint16(len(packets)))
	for _, p := range packets {
		pkt := make([]byte, 10)
		binary.BigEndian.PutUint16(pkt[0:2], 8)
		binary.BigEndian.PutUint32(pkt[2:6], p[0])
		binary.BigEndian.PutUint32(pkt[6:10], p[1])
		buf = append(buf, pkt...)
	}
	return buf
}

func TestHandleBinaryWritesQuotes(t *testing.T) {
	cache := &memCache{}
	tk := NewTicker("wss://x", "k", "t", []int64{11001, 11002},
		mapResolver{11001: "NIFTY2631024500PE", 11002: "NIFTY2631024400PE"},
		cache, slog.New(slog.NewTextHandler(io.Discard, nil)))

	tk.handleBinary(context.Background(), ltpFrame(
		[2]uint32{11001, 9840},
		[2]uint32{11002, 6125},
		[2]uint32{99999, 100}, // unknown token dropped
	))

	require.Len(t, cache.prices, 2)
	assert.Equal(t, 98.40, cache.prices["NIFTY2631024500PE"])
	assert.Equal(t, 61.25, cache.prices["NIFTY2631024400PE"])
}

func TestHandleBinaryTruncatedFrame(t *testing.T) {
	cache := &memCache{}
	tk := NewTicker("wss://x", "k", "t", []int64{1}, mapResolver{}, cache, slog.New(slog.NewTextHandler(io.Discard, nil)))

	tk.handleBinary(context.Background(), []byte{0})
	tk.handleBinary(context.Background(), []byte{0, 3, 0, 8, 1})
	assert.Empty(t, cache.prices)
}
