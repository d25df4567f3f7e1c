package render

import (
	"io"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"

	"github.com/skobkin/ibtop/internal/ib"
)

const unknown = "-"

// WriteInterfaces prints discovered interfaces, one row per port. attrs may be
// nil when link attributes could not be read.
func WriteInterfaces(w io.Writer, ifaces []ib.Interface, attrs ib.Attributes) {
	table := tablewriter.NewWriter(w)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetHeader([]string{"Interface", "Port", "State", "Phys State", "Rate", "Product", "Firmware"})

	for _, iface := range ifaces {
		product := orUnknown(iface.Product)
		firmware := orUnknown(iface.FirmwareVersion)

		if len(iface.Ports) == 0 {
			table.Append([]string{iface.Name, unknown, unknown, unknown, unknown, product, firmware})
			continue
		}

		for _, port := range iface.Ports {
			state, phys, rate := unknown, unknown, unknown
			if pa, ok := attrs.Lookup(iface.Name, port); ok {
				state = orUnknown(pa.State)
				phys = orUnknown(pa.PhysState)
				rate = FormatRate(pa.RateBytes)
			}
			table.Append([]string{iface.Name, port, state, phys, rate, product, firmware})
		}
	}

	table.Render()
}

// FormatRate renders a link rate given in bytes per second as bits per second.
func FormatRate(bytesPerSec uint64) string {
	if bytesPerSec == 0 {
		return unknown
	}
	return humanize.SIWithDigits(float64(bytesPerSec)*8, 0, "b/s")
}

// WriteTotals prints cumulative traffic per port from raw counter values.
func WriteTotals(w io.Writer, attrs ib.Attributes, refs []ib.PortRef) {
	table := tablewriter.NewWriter(w)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetHeader([]string{"Interface", "Port", "Received", "Transmitted"})

	for _, ref := range refs {
		rcv, xmit := unknown, unknown
		if pa, ok := attrs.Lookup(ref.Interface, ref.Port); ok {
			rcv = formatBytes(pa.ReceiveBytes)
			xmit = formatBytes(pa.TransmitBytes)
		}
		table.Append([]string{ref.Interface, ref.Port, rcv, xmit})
	}

	table.Render()
}

func formatBytes(v *uint64) string {
	if v == nil {
		return unknown
	}
	return humanize.Bytes(*v) + " (" + strconv.FormatUint(*v, 10) + ")"
}

func orUnknown(s string) string {
	if s == "" {
		return unknown
	}
	return s
}
