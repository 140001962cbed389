package receiver

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/wfr/daq-telemetry/internal/wire"
)

func datagram(seq uint64, id uint32) []byte {
	return wire.Encode(wire.Batch{Sequence: seq, Frames: []wire.Frame{wire.NewFrame(1.0, id, []byte{1})}})
}

func TestFirstDatagramAnchors(t *testing.T) {
	r := New(10, 0, zap.NewNop())
	frames, reason, err := r.Handle(datagram(5, 0x1))
	require.NoError(t, err)
	require.Empty(t, reason)
	require.Len(t, frames, 1)
	require.Equal(t, 0, r.MissingCount())
}

func TestGapInsertsMissingSequences(t *testing.T) {
	r := New(10, 0, zap.NewNop())
	_, _, err := r.Handle(datagram(1, 0x1))
	require.NoError(t, err)

	frames, reason, err := r.Handle(datagram(4, 0x1))
	require.NoError(t, err)
	require.Empty(t, reason)
	require.Len(t, frames, 1)
	require.ElementsMatch(t, []uint64{2, 3}, r.Missing())
}

func TestRecoveredSequenceClearsFromMissing(t *testing.T) {
	r := New(10, 0, zap.NewNop())
	_, _, _ = r.Handle(datagram(1, 0x1))
	_, _, _ = r.Handle(datagram(3, 0x1)) // gap: seq 2 now missing

	frames, reason, err := r.Handle(datagram(2, 0x1))
	require.NoError(t, err)
	require.Empty(t, reason)
	require.Len(t, frames, 1)
	require.Empty(t, r.Missing())
}

func TestDuplicateOfAlreadyDeliveredIsIgnored(t *testing.T) {
	r := New(10, 0, zap.NewNop())
	_, _, _ = r.Handle(datagram(1, 0x1))
	_, _, _ = r.Handle(datagram(2, 0x1))

	frames, reason, err := r.Handle(datagram(2, 0x1))
	require.NoError(t, err)
	require.Empty(t, reason)
	require.Nil(t, frames)
}

func TestUnrecoverablyLateDropsDatagram(t *testing.T) {
	r := New(5, 1000, zap.NewNop())
	_, _, _ = r.Handle(datagram(200, 0x1))

	frames, reason, err := r.Handle(datagram(1, 0x1))
	require.NoError(t, err)
	require.Equal(t, DropUnrecoverablyLate, reason)
	require.Nil(t, frames)
}

func TestLargeBackwardJumpTriggersResync(t *testing.T) {
	r := New(5, 20, zap.NewNop())
	_, _, _ = r.Handle(datagram(1000, 0x1))
	r.addMissing(1) // pretend there was old gap state to be cleared

	frames, reason, err := r.Handle(datagram(1, 0x1))
	require.NoError(t, err)
	require.Empty(t, reason)
	require.Len(t, frames, 1)
	require.Empty(t, r.Missing())
}

func TestMalformedDatagramDropped(t *testing.T) {
	r := New(10, 0, zap.NewNop())
	frames, reason, err := r.Handle([]byte{1, 2, 3})
	require.Error(t, err)
	require.Equal(t, DropMalformed, reason)
	require.Nil(t, frames)
}

func TestMissingSetEvictsOldestOverMissingMax(t *testing.T) {
	r := New(2, 0, zap.NewNop())
	_, _, _ = r.Handle(datagram(1, 0x1))
	_, _, _ = r.Handle(datagram(10, 0x1)) // gap inserts 2..9, capped at missingMax=2

	require.Len(t, r.Missing(), 2)
	require.ElementsMatch(t, []uint64{8, 9}, r.Missing())
}
