package sampler

import (
	"errors"
	"fmt"
	"time"
)

// DefaultInterval is the fixed pause between sampling cycles.
const DefaultInterval = 2 * time.Second

const (
	// port_rcv_data and port_xmit_data count 4-octet words.
	octetsPerUnit  = 4
	bitsPerOctet   = 8
	bitsPerMegabit = 1_000_000
)

// ErrCounterRegression reports a counter that went backwards, typically after
// a device reset or wraparound.
var ErrCounterRegression = errors.New("counter regression")

// Reading is one observation of a port's cumulative data counters.
type Reading struct {
	Received    uint64
	Transmitted uint64
	Timestamp   time.Time
}

// PortState is the previous reading of a single port.
// The zero value has no baseline.
type PortState struct {
	Received    uint64
	Transmitted uint64
	At          time.Time
	HasBaseline bool
}

// Delta is the counter growth between two consecutive readings.
type Delta struct {
	Received    uint64
	Transmitted uint64
	Window      time.Duration
}

// ReceiveMbps converts the receive delta to megabits per second.
func (d Delta) ReceiveMbps() float64 {
	return Mbps(d.Received, d.Window)
}

// TransmitMbps converts the transmit delta to megabits per second.
func (d Delta) TransmitMbps() float64 {
	return Mbps(d.Transmitted, d.Window)
}

// Advance folds a reading into the state.
//
// The first reading only records a baseline and reports ok=false. A reading
// lower than the stored one re-baselines the port and returns
// ErrCounterRegression. Otherwise the delta against the previous reading is
// returned and the state moves to the new reading. The window is the time
// between the two readings, or fallback when that is not positive.
func (s *PortState) Advance(r Reading, fallback time.Duration) (Delta, bool, error) {
	if !s.HasBaseline {
		s.rebase(r)
		return Delta{}, false, nil
	}

	if r.Received < s.Received || r.Transmitted < s.Transmitted {
		prev := *s
		s.rebase(r)
		return Delta{}, false, fmt.Errorf("%w: rcv %d -> %d, xmit %d -> %d",
			ErrCounterRegression, prev.Received, r.Received, prev.Transmitted, r.Transmitted)
	}

	window := r.Timestamp.Sub(s.At)
	if window <= 0 {
		window = fallback
	}

	delta := Delta{
		Received:    r.Received - s.Received,
		Transmitted: r.Transmitted - s.Transmitted,
		Window:      window,
	}
	s.rebase(r)
	return delta, true, nil
}

func (s *PortState) rebase(r Reading) {
	s.Received = r.Received
	s.Transmitted = r.Transmitted
	s.At = r.Timestamp
	s.HasBaseline = true
}

// Mbps converts a counter delta accumulated over window into megabits per
// second. Over a 2s window this is units*16/1e6.
func Mbps(units uint64, window time.Duration) float64 {
	if window <= 0 {
		return 0
	}
	return float64(units) * octetsPerUnit * bitsPerOctet / window.Seconds() / bitsPerMegabit
}
