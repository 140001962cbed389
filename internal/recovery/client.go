package recovery

import (
	"bufio"
	"bytes"
	"encoding/json"
	"io"
	"net"
	"sort"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/wfr/daq-telemetry/internal/wire"
)

// DefaultPeriod is the default interval between recovery cycles.
const DefaultPeriod = 10 * time.Second

// DefaultBatchMax is the default cap on sequences requested per cycle.
const DefaultBatchMax = 100

// MissingSource exposes just enough of the Receiver for the recovery
// client to operate without owning the missing set itself.
type MissingSource interface {
	Missing() []uint64
	RemoveRecovered(seq uint64)
}

// Client periodically asks a recovery Server for currently-missing
// sequences and injects any recovered frames into inject.
type Client struct {
	remoteAddr string
	period     time.Duration
	batchMax   int
	logger     *zap.Logger
	breaker    *gobreaker.CircuitBreaker
	dialer     net.Dialer
}

// NewClient builds a Client targeting remoteAddr (the recovery server's
// host:port). period/batchMax fall back to spec defaults when <= 0.
func NewClient(remoteAddr string, period time.Duration, batchMax int, logger *zap.Logger) *Client {
	if period <= 0 {
		period = DefaultPeriod
	}
	if batchMax <= 0 {
		batchMax = DefaultBatchMax
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "recovery-client",
		MaxRequests: 1,
		Interval:    0,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})

	return &Client{
		remoteAddr: remoteAddr,
		period:     period,
		batchMax:   batchMax,
		logger:     logger,
		breaker:    breaker,
		dialer:     net.Dialer{Timeout: 5 * time.Second},
	}
}

// Run ticks every period and, if source reports any missing sequences,
// attempts one recovery round trip until stop is closed.
func (c *Client) Run(source MissingSource, inject func(seq uint64, frames []wire.Frame), stop <-chan struct{}) {
	ticker := time.NewTicker(c.period)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			missing := source.Missing()
			if len(missing) == 0 {
				continue
			}
			c.cycle(missing, source, inject)
		}
	}
}

// cycle requests the newest gaps first (tail-limited to batchMax), since
// older gaps are most likely to have already aged out of the ring.
func (c *Client) cycle(missing []uint64, source MissingSource, inject func(seq uint64, frames []wire.Frame)) {
	sort.Slice(missing, func(i, j int) bool { return missing[i] < missing[j] })
	if len(missing) > c.batchMax {
		missing = missing[len(missing)-c.batchMax:]
	}

	result, err := c.breaker.Execute(func() (interface{}, error) {
		return c.roundTrip(missing)
	})
	if err != nil {
		c.logger.Debug("recovery client: round trip failed, retrying next cycle", zap.Error(err))
		return
	}

	entries := result.([]responseEntry)
	for _, entry := range entries {
		stillMissing := false
		for _, m := range missing {
			if m == entry.Seq {
				stillMissing = true
				break
			}
		}
		if !stillMissing {
			continue
		}
		frames, err := msgsToFrames(entry.Msgs)
		if err != nil {
			continue
		}
		inject(entry.Seq, frames)
		source.RemoveRecovered(entry.Seq)
	}
}

func (c *Client) roundTrip(missing []uint64) ([]responseEntry, error) {
	conn, err := c.dialer.Dial("tcp", c.remoteAddr)
	if err != nil {
		return nil, err
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(10 * time.Second))

	reqBody, err := json.Marshal(request{Missing: missing})
	if err != nil {
		return nil, err
	}
	reqBody = append(reqBody, '\n')
	if _, err := conn.Write(reqBody); err != nil {
		return nil, err
	}
	if tcp, ok := conn.(*net.TCPConn); ok {
		tcp.CloseWrite()
	}

	reader := bufio.NewReader(conn)
	flag, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	body, err := io.ReadAll(reader)
	if err != nil {
		return nil, err
	}

	if flag == gzipFlag {
		gr, err := gzip.NewReader(bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		defer gr.Close()
		body, err = io.ReadAll(gr)
		if err != nil {
			return nil, err
		}
	}

	var entries []responseEntry
	if err := json.Unmarshal(body, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}
