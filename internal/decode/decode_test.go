package decode

import (
	"testing"

	"github.com/gobwas/glob"
	"github.com/stretchr/testify/require"

	"github.com/wfr/daq-telemetry/internal/dbc"
	"github.com/wfr/daq-telemetry/internal/wire"
)

func globMatch(pattern, name string) bool {
	g, err := glob.Compile(pattern)
	if err != nil {
		return false
	}
	return g.Match(name)
}

func TestDecodeAppendsRawWithNoDatabase(t *testing.T) {
	h := New(dbc.NullDecoder{}, 10)
	f := wire.NewFrame(1.0, 0x123, []byte{1, 2, 3, 4, 5, 6, 7, 8})
	rec := h.Decode(f)

	require.Equal(t, "Raw", rec.MessageName)
	require.Equal(t, [8]byte{1, 2, 3, 4, 5, 6, 7, 8}, rec.RawData)
	require.Equal(t, 1, h.Len())
}

func TestHistoryEvictsOldestOverLimit(t *testing.T) {
	h := New(dbc.NullDecoder{}, 3)
	for i := uint32(0); i < 5; i++ {
		h.Decode(wire.NewFrame(float64(i), i, nil))
	}
	require.Equal(t, 3, h.Len())

	results := h.Run(Query{Mode: FilterAll}, globMatch)
	require.Len(t, results, 3)
	// newest-first: last decoded id is 4
	require.Equal(t, uint32(4), results[0].CanID)
}

func TestQueryCountReturnsNewestFirst(t *testing.T) {
	h := New(dbc.NullDecoder{}, 100)
	for i := uint32(0); i < 5; i++ {
		h.Decode(wire.NewFrame(float64(i), i, nil))
	}
	results := h.Run(Query{Mode: FilterCount, TimeRange: 2}, globMatch)
	require.Len(t, results, 2)
	require.Equal(t, uint32(4), results[0].CanID)
	require.Equal(t, uint32(3), results[1].CanID)
}

func TestQueryFiltersByCanID(t *testing.T) {
	h := New(dbc.NullDecoder{}, 100)
	h.Decode(wire.NewFrame(0, 10, nil))
	h.Decode(wire.NewFrame(0, 20, nil))
	h.Decode(wire.NewFrame(0, 10, nil))

	id := uint32(10)
	results := h.Run(Query{Mode: FilterAll, CanID: &id}, globMatch)
	require.Len(t, results, 2)
	for _, r := range results {
		require.Equal(t, uint32(10), r.CanID)
	}
}

func TestQueryRespectsMaxLimit(t *testing.T) {
	h := New(dbc.NullDecoder{}, 1000)
	for i := uint32(0); i < 600; i++ {
		h.Decode(wire.NewFrame(0, i, nil))
	}
	results := h.Run(Query{Mode: FilterAll, Limit: 1000}, globMatch)
	require.Len(t, results, MaxQueryLimit)
}

func TestDecodeNeverDropsFrameOnError(t *testing.T) {
	d := dbc.NewStaticDecoder(map[uint32]dbc.StaticMessage{})
	h := New(d, 10)
	rec := h.Decode(wire.NewFrame(0, 0xFFFF, nil))
	require.Equal(t, "Unknown", rec.MessageName)
	require.NotEmpty(t, rec.Error)
	require.Equal(t, 1, h.Len())
}
