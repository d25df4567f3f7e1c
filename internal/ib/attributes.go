package ib

import (
	"fmt"
	"strconv"

	"github.com/prometheus/procfs/sysfs"
)

// PortAttributes are link properties of a port as read at call time.
type PortAttributes struct {
	State         string  `json:"state"`
	PhysState     string  `json:"phys_state"`
	RateBytes     uint64  `json:"rate_bytes_per_sec"`
	ReceiveBytes  *uint64 `json:"rcv_bytes,omitempty"`
	TransmitBytes *uint64 `json:"xmit_bytes,omitempty"`
}

// Attributes maps ports to their link properties.
type Attributes map[PortRef]PortAttributes

// Lookup returns the attributes for a single port.
func (a Attributes) Lookup(iface, port string) (PortAttributes, bool) {
	attrs, ok := a[PortRef{Interface: iface, Port: port}]
	return attrs, ok
}

// Describe reads link attributes and data totals, already scaled to octets,
// of every port through the procfs sysfs InfiniBand reader. It fails as a
// whole if any device lacks a file that reader requires.
func Describe(sysfsRoot string) (Attributes, error) {
	fs, err := sysfs.NewFS(sysfsRoot)
	if err != nil {
		return nil, fmt.Errorf("open sysfs: %w", err)
	}

	class, err := fs.InfiniBandClass()
	if err != nil {
		return nil, fmt.Errorf("read infiniband class: %w", err)
	}

	attrs := make(Attributes)
	for name, device := range class {
		for num, port := range device.Ports {
			ref := PortRef{Interface: name, Port: strconv.FormatUint(uint64(num), 10)}
			attrs[ref] = PortAttributes{
				State:         port.State,
				PhysState:     port.PhysState,
				RateBytes:     port.Rate,
				ReceiveBytes:  port.Counters.PortRcvData,
				TransmitBytes: port.Counters.PortXmitData,
			}
		}
	}
	return attrs, nil
}
