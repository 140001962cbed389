package dbc

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNullDecoderAlwaysRaw(t *testing.T) {
	d := NullDecoder{}
	rec := d.Decode(0x123, []byte{1, 2, 3, 4, 5, 6, 7, 8})
	require.Equal(t, "Raw", rec.MessageName)
	require.Empty(t, rec.Error)
}

func TestStaticDecoderUnknownID(t *testing.T) {
	d := NewStaticDecoder(map[uint32]StaticMessage{})
	rec := d.Decode(0x999, nil)
	require.Equal(t, "Unknown", rec.MessageName)
	require.Equal(t, "id not in database", rec.Error)
}

func TestStaticDecoderKnownID(t *testing.T) {
	d := NewStaticDecoder(map[uint32]StaticMessage{
		0x100: {
			Name: "BMS_Status",
			Signals: func(payload []byte) map[string]interface{} {
				return map[string]interface{}{"soc": payload[0]}
			},
		},
	})
	rec := d.Decode(0x100, []byte{42, 0, 0, 0, 0, 0, 0, 0})
	require.Equal(t, "BMS_Status", rec.MessageName)
	require.Equal(t, byte(42), rec.Signals["soc"])
}

func TestStaticDecoderRecoversPanic(t *testing.T) {
	d := NewStaticDecoder(map[uint32]StaticMessage{
		0x100: {
			Name: "BMS_Status",
			Signals: func(payload []byte) map[string]interface{} {
				return map[string]interface{}{"soc": payload[99]}
			},
		},
	})
	rec := d.Decode(0x100, []byte{1, 2, 3, 4, 5, 6, 7, 8})
	require.Equal(t, "Unknown", rec.MessageName)
	require.NotEmpty(t, rec.Error)
}
