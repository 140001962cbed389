// Package recovery implements the reliable request/response channel the
// receiver uses to fill gaps from the sender's ring buffer: a client that
// periodically asks for missing sequences, and a server that answers ring
// lookups.
package recovery

import "github.com/wfr/daq-telemetry/internal/wire"

// request is the client→server wire shape: {"missing":[u64,...]}.
type request struct {
	Missing []uint64 `json:"missing"`
}

// responseEntry is one recovered batch in the server→client reply.
type responseEntry struct {
	Seq  uint64        `json:"seq"`
	Msgs []responseMsg `json:"msgs"`
}

// responseMsg is one frame within a responseEntry; D is the 8-byte
// payload hex-encoded since the recovery channel carries text.
type responseMsg struct {
	T float64 `json:"t"`
	ID uint32 `json:"id"`
	D  string `json:"d"`
}

func framesToMsgs(frames []wire.Frame) []responseMsg {
	msgs := make([]responseMsg, len(frames))
	for i, f := range frames {
		msgs[i] = responseMsg{T: f.Timestamp, ID: f.CanID, D: hexEncode(f.Payload[:])}
	}
	return msgs
}

func msgsToFrames(msgs []responseMsg) ([]wire.Frame, error) {
	frames := make([]wire.Frame, len(msgs))
	for i, m := range msgs {
		payload, err := hexDecode(m.D)
		if err != nil {
			return nil, err
		}
		frames[i] = wire.NewFrame(m.T, m.ID, payload)
	}
	return frames, nil
}

const hexDigits = "0123456789abcdef"

func hexEncode(b []byte) string {
	out := make([]byte, len(b)*2)
	for i, v := range b {
		out[i*2] = hexDigits[v>>4]
		out[i*2+1] = hexDigits[v&0x0f]
	}
	return string(out)
}

func hexDecode(s string) ([]byte, error) {
	if len(s)%2 != 0 {
		return nil, errOddHexLength
	}
	out := make([]byte, len(s)/2)
	for i := range out {
		hi, err := hexNibble(s[i*2])
		if err != nil {
			return nil, err
		}
		lo, err := hexNibble(s[i*2+1])
		if err != nil {
			return nil, err
		}
		out[i] = hi<<4 | lo
	}
	return out, nil
}

func hexNibble(c byte) (byte, error) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', nil
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, nil
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, nil
	default:
		return 0, errInvalidHexChar
	}
}
