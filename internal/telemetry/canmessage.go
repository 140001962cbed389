package telemetry

import (
	"encoding/json"

	"github.com/wfr/daq-telemetry/internal/wire"
)

// canMessage is the wire shape of one frame on the can_messages pub/sub
// channel (spec.md §6): milliseconds-since-epoch int, not the internal
// seconds-as-double representation.
type canMessage struct {
	Time  int64                 `json:"time"`
	CanID uint32                `json:"canId"`
	Data  [wire.PayloadLen]byte `json:"data"`
}

// marshalCanMessages renders a batch of frames as the JSON array the
// can_messages channel carries. Returns nil, nil for an empty batch.
func marshalCanMessages(frames []wire.Frame) ([]byte, error) {
	if len(frames) == 0 {
		return nil, nil
	}
	msgs := make([]canMessage, len(frames))
	for i, f := range frames {
		msgs[i] = canMessage{
			Time:  int64(f.Timestamp * 1000),
			CanID: f.CanID,
			Data:  f.Payload,
		}
	}
	return json.Marshal(msgs)
}
