package sampler

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/skobkin/ibtop/internal/ib"
)

const (
	countersDir      = "counters"
	rcvDataFilename  = "port_rcv_data"
	xmitDataFilename = "port_xmit_data"
)

var (
	// ErrCounterUnavailable reports a counter file that could not be opened or read.
	ErrCounterUnavailable = errors.New("counter unavailable")
	// ErrMalformedCounter reports a counter file whose first line is not an unsigned integer.
	ErrMalformedCounter = errors.New("malformed counter")
)

// Reader fetches the cumulative data counters of InfiniBand ports.
type Reader struct {
	root   *os.Root
	now    func() time.Time
	logger *slog.Logger
}

// NewReader opens the sysfs root that port counters are read from.
func NewReader(sysfsRoot string, logger *slog.Logger) (*Reader, error) {
	if logger == nil {
		logger = slog.Default()
	}

	root, err := os.OpenRoot(sysfsRoot)
	if err != nil {
		return nil, fmt.Errorf("open sysfs root: %w", err)
	}

	return &Reader{
		root:   root,
		now:    time.Now,
		logger: logger.With("component", "sampler"),
	}, nil
}

// Read takes one reading of both data counters of a port. Nothing is returned
// unless both counters were read.
func (r *Reader) Read(ref ib.PortRef) (Reading, error) {
	at := r.now().UTC()

	received, err := r.readCounter(ref, rcvDataFilename)
	if err != nil {
		return Reading{}, err
	}
	transmitted, err := r.readCounter(ref, xmitDataFilename)
	if err != nil {
		return Reading{}, err
	}

	return Reading{
		Received:    received,
		Transmitted: transmitted,
		Timestamp:   at,
	}, nil
}

// Sample reads the port and advances its state. ok is false while the port
// only establishes its baseline. On error the state is left as it was, except
// for ErrCounterRegression which re-baselines it.
func (r *Reader) Sample(ref ib.PortRef, state *PortState) (Sample, bool, error) {
	reading, err := r.Read(ref)
	if err != nil {
		return Sample{}, false, err
	}

	delta, ok, err := state.Advance(reading, DefaultInterval)
	if err != nil {
		return Sample{}, false, fmt.Errorf("%s: %w", ref, err)
	}
	if !ok {
		r.logger.Debug("baseline recorded", "interface", ref.Interface, "port", ref.Port,
			"rcv", reading.Received, "xmit", reading.Transmitted)
		return Sample{}, false, nil
	}

	return Sample{
		Interface:        ref.Interface,
		Port:             ref.Port,
		Timestamp:        reading.Timestamp,
		WindowSeconds:    delta.Window.Seconds(),
		ReceiveMbps:      delta.ReceiveMbps(),
		TransmitMbps:     delta.TransmitMbps(),
		ReceivedUnits:    reading.Received,
		TransmittedUnits: reading.Transmitted,
	}, true, nil
}

// Close releases the sysfs root handle.
func (r *Reader) Close() error {
	return r.root.Close()
}

func (r *Reader) readCounter(ref ib.PortRef, name string) (uint64, error) {
	path := filepath.Join(ib.ClassPath, ref.Interface, "ports", ref.Port, countersDir, name)

	f, err := r.root.Open(path)
	if err != nil {
		return 0, fmt.Errorf("%w: %s %s: %w", ErrCounterUnavailable, ref, name, err)
	}
	defer f.Close()

	line, err := bufio.NewReader(f).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return 0, fmt.Errorf("%w: %s %s: %w", ErrCounterUnavailable, ref, name, err)
	}

	value, err := parseCounter(line)
	if err != nil {
		return 0, fmt.Errorf("%w: %s %s: %w", ErrMalformedCounter, ref, name, err)
	}
	return value, nil
}

func parseCounter(line string) (uint64, error) {
	value := strings.TrimSpace(line)
	if value == "" {
		return 0, errors.New("empty value")
	}
	return strconv.ParseUint(value, 10, 64)
}
