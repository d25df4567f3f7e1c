package sampler

import (
	"time"

	"github.com/skobkin/ibtop/internal/ib"
)

// Sample is the bandwidth of one port over the window between two readings.
type Sample struct {
	Interface        string    `json:"interface"`
	Port             string    `json:"port"`
	Timestamp        time.Time `json:"ts"`
	WindowSeconds    float64   `json:"window_s"`
	ReceiveMbps      float64   `json:"rcv_mbps"`
	TransmitMbps     float64   `json:"xmit_mbps"`
	ReceivedUnits    uint64    `json:"port_rcv_data"`
	TransmittedUnits uint64    `json:"port_xmit_data"`
}

// Ref returns the port the sample belongs to.
func (s Sample) Ref() ib.PortRef {
	return ib.PortRef{Interface: s.Interface, Port: s.Port}
}

// Skip records a port that produced no sample in a cycle because of an error.
type Skip struct {
	Interface string `json:"interface"`
	Port      string `json:"port"`
	Reason    string `json:"reason"`
}

// Cycle is the outcome of sampling every known port once.
// Ports still establishing their baseline appear in neither list.
type Cycle struct {
	Seq       uint64    `json:"seq"`
	Timestamp time.Time `json:"ts"`
	Samples   []Sample  `json:"samples"`
	Skipped   []Skip    `json:"skipped,omitempty"`
}

// ForInterface returns a copy of the cycle restricted to a single interface.
// An empty name keeps every port.
func (c Cycle) ForInterface(name string) Cycle {
	if name == "" {
		return c
	}
	out := Cycle{Seq: c.Seq, Timestamp: c.Timestamp, Samples: []Sample{}}
	for _, sample := range c.Samples {
		if sample.Interface == name {
			out.Samples = append(out.Samples, sample)
		}
	}
	for _, skip := range c.Skipped {
		if skip.Interface == name {
			out.Skipped = append(out.Skipped, skip)
		}
	}
	return out
}
