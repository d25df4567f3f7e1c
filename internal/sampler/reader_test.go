package sampler

import (
	"errors"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/skobkin/ibtop/internal/ib"
)

func TestReaderReadsCounters(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeCounters(t, root, "mlx5_0", "1", 1000, 2000)

	reader := newTestReader(t, root, newFakeClock())

	reading, err := reader.Read(ib.PortRef{Interface: "mlx5_0", Port: "1"})
	if err != nil {
		t.Fatalf("Read returned error: %v", err)
	}
	if reading.Received != 1000 || reading.Transmitted != 2000 {
		t.Fatalf("unexpected reading: %+v", reading)
	}
	if reading.Timestamp.IsZero() {
		t.Fatalf("reading has no timestamp")
	}
}

func TestReaderUsesFirstLineOnly(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	dir := countersPath(root, "mlx5_0", "1")
	writeFile(t, filepath.Join(dir, rcvDataFilename), "42\n17\n")
	writeFile(t, filepath.Join(dir, xmitDataFilename), "  7  ")

	reader := newTestReader(t, root, newFakeClock())

	reading, err := reader.Read(ib.PortRef{Interface: "mlx5_0", Port: "1"})
	if err != nil {
		t.Fatalf("Read returned error: %v", err)
	}
	if reading.Received != 42 || reading.Transmitted != 7 {
		t.Fatalf("unexpected reading: %+v", reading)
	}
}

func TestReaderSampleTwoSecondWindow(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	ref := ib.PortRef{Interface: "mlx5_0", Port: "1"}
	writeCounters(t, root, ref.Interface, ref.Port, 1000, 2000)

	clock := newFakeClock()
	reader := newTestReader(t, root, clock)
	state := &PortState{}

	if _, ok, err := reader.Sample(ref, state); err != nil || ok {
		t.Fatalf("first sample should only record a baseline, got ok=%v err=%v", ok, err)
	}
	if !state.HasBaseline || state.Received != 1000 || state.Transmitted != 2000 {
		t.Fatalf("unexpected baseline: %+v", state)
	}

	clock.Advance(2 * time.Second)
	writeCounters(t, root, ref.Interface, ref.Port, 1500, 2500)

	sample, ok, err := reader.Sample(ref, state)
	if err != nil || !ok {
		t.Fatalf("second sample: ok=%v err=%v", ok, err)
	}
	if sample.Interface != "mlx5_0" || sample.Port != "1" {
		t.Fatalf("unexpected sample identity: %+v", sample)
	}
	assertMbps(t, sample.ReceiveMbps, 0.008)
	assertMbps(t, sample.TransmitMbps, 0.008)
	if sample.WindowSeconds != 2 {
		t.Fatalf("expected 2s window, got %v", sample.WindowSeconds)
	}
	if sample.ReceivedUnits != 1500 || sample.TransmittedUnits != 2500 {
		t.Fatalf("unexpected raw units: %+v", sample)
	}
}

func TestReaderUnavailableCounterKeepsBaseline(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	ref := ib.PortRef{Interface: "mlx5_0", Port: "1"}
	writeCounters(t, root, ref.Interface, ref.Port, 1000, 2000)

	clock := newFakeClock()
	reader := newTestReader(t, root, clock)
	state := &PortState{}

	if _, _, err := reader.Sample(ref, state); err != nil {
		t.Fatalf("baseline sample returned error: %v", err)
	}
	baseline := *state

	xmitPath := filepath.Join(countersPath(root, ref.Interface, ref.Port), xmitDataFilename)
	if err := os.Remove(xmitPath); err != nil {
		t.Fatalf("remove %s: %v", xmitPath, err)
	}
	writeFile(t, filepath.Join(countersPath(root, ref.Interface, ref.Port), rcvDataFilename), "1200\n")

	clock.Advance(2 * time.Second)
	_, ok, err := reader.Sample(ref, state)
	if !errors.Is(err, ErrCounterUnavailable) {
		t.Fatalf("expected ErrCounterUnavailable, got %v", err)
	}
	if ok {
		t.Fatalf("failed sample must not produce output")
	}
	if *state != baseline {
		t.Fatalf("state changed on failure: %+v != %+v", *state, baseline)
	}

	clock.Advance(2 * time.Second)
	writeCounters(t, root, ref.Interface, ref.Port, 1500, 2500)
	sample, ok, err := reader.Sample(ref, state)
	if err != nil || !ok {
		t.Fatalf("recovery sample: ok=%v err=%v", ok, err)
	}
	// 500 units against the pre-failure baseline over 4s.
	assertMbps(t, sample.ReceiveMbps, 0.004)
	assertMbps(t, sample.TransmitMbps, 0.004)
}

func TestReaderMalformedCounter(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"text":     "abc\n",
		"negative": "-5\n",
		"empty":    "",
		"spaced":   "12 34\n",
		"overflow": "18446744073709551616\n",
	}

	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			root := t.TempDir()
			ref := ib.PortRef{Interface: "mlx5_0", Port: "1"}
			writeCounters(t, root, ref.Interface, ref.Port, 1000, 2000)

			reader := newTestReader(t, root, newFakeClock())
			state := &PortState{}
			if _, _, err := reader.Sample(ref, state); err != nil {
				t.Fatalf("baseline sample returned error: %v", err)
			}
			baseline := *state

			writeFile(t, filepath.Join(countersPath(root, ref.Interface, ref.Port), rcvDataFilename), content)

			_, ok, err := reader.Sample(ref, state)
			if !errors.Is(err, ErrMalformedCounter) {
				t.Fatalf("expected ErrMalformedCounter, got %v", err)
			}
			if ok || *state != baseline {
				t.Fatalf("malformed counter must be skipped without touching state")
			}
		})
	}
}

func TestReaderCounterRegressionRebaselines(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	ref := ib.PortRef{Interface: "mlx5_0", Port: "1"}
	writeCounters(t, root, ref.Interface, ref.Port, 5000, 5000)

	clock := newFakeClock()
	reader := newTestReader(t, root, clock)
	state := &PortState{}
	if _, _, err := reader.Sample(ref, state); err != nil {
		t.Fatalf("baseline sample returned error: %v", err)
	}

	clock.Advance(2 * time.Second)
	writeCounters(t, root, ref.Interface, ref.Port, 10, 6000)
	_, ok, err := reader.Sample(ref, state)
	if !errors.Is(err, ErrCounterRegression) {
		t.Fatalf("expected ErrCounterRegression, got %v", err)
	}
	if ok {
		t.Fatalf("regression must not produce output")
	}
	if state.Received != 10 || state.Transmitted != 6000 {
		t.Fatalf("state was not re-baselined: %+v", state)
	}

	clock.Advance(2 * time.Second)
	writeCounters(t, root, ref.Interface, ref.Port, 510, 6500)
	sample, ok, err := reader.Sample(ref, state)
	if err != nil || !ok {
		t.Fatalf("sample after regression: ok=%v err=%v", ok, err)
	}
	assertMbps(t, sample.ReceiveMbps, 0.008)
}

func TestReaderZeroBaselineIsValid(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	ref := ib.PortRef{Interface: "mlx5_0", Port: "1"}
	writeCounters(t, root, ref.Interface, ref.Port, 0, 0)

	clock := newFakeClock()
	reader := newTestReader(t, root, clock)
	state := &PortState{}
	if _, ok, err := reader.Sample(ref, state); err != nil || ok {
		t.Fatalf("baseline sample: ok=%v err=%v", ok, err)
	}

	clock.Advance(2 * time.Second)
	writeCounters(t, root, ref.Interface, ref.Port, 500, 0)
	sample, ok, err := reader.Sample(ref, state)
	if err != nil || !ok {
		t.Fatalf("zero baseline must produce a delta: ok=%v err=%v", ok, err)
	}
	assertMbps(t, sample.ReceiveMbps, 0.008)
	assertMbps(t, sample.TransmitMbps, 0)
}

func TestNewReaderMissingRoot(t *testing.T) {
	t.Parallel()

	if _, err := NewReader(filepath.Join(t.TempDir(), "missing"), discardLogger()); err == nil {
		t.Fatalf("expected error for missing sysfs root")
	}
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestReader(t *testing.T, root string, clock *fakeClock) *Reader {
	t.Helper()
	reader, err := NewReader(root, discardLogger())
	if err != nil {
		t.Fatalf("NewReader returned error: %v", err)
	}
	reader.now = clock.Now
	t.Cleanup(func() { _ = reader.Close() })
	return reader
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func countersPath(root, iface, port string) string {
	return filepath.Join(root, ib.ClassPath, iface, "ports", port, countersDir)
}

func writeCounters(t *testing.T, root, iface, port string, rcv, xmit uint64) {
	t.Helper()
	dir := countersPath(root, iface, port)
	writeFile(t, filepath.Join(dir, rcvDataFilename), strconv.FormatUint(rcv, 10)+"\n")
	writeFile(t, filepath.Join(dir, xmitDataFilename), strconv.FormatUint(xmit, 10)+"\n")
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir %s: %v", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func assertMbps(t *testing.T, got, want float64) {
	t.Helper()
	if math.Abs(got-want) > 1e-9 {
		t.Fatalf("expected %v Mbps, got %v", want, got)
	}
}
