package procscan

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"testing"
)

func TestCollectorFindsVerbsHolders(t *testing.T) {
	root := t.TempDir()
	proc := setupProcEntry(t, root, 1234)
	proc.linkFD(t, "3", "/dev/infiniband/uverbs1")
	proc.linkFD(t, "4", "/dev/infiniband/uverbs1")
	proc.linkFD(t, "5", "/dev/infiniband/uverbs0")
	proc.linkFD(t, "6", "/dev/null")
	proc.linkFD(t, "7", "/dev/infiniband/rdma_cm")

	other := setupProcEntry(t, root, 99)
	other.linkFD(t, "0", "/dev/null")

	lookup := newVerbsLookup(map[string]string{"uverbs0": "mlx5_0", "uverbs1": "mlx5_1"}, []string{"mlx5_0", "mlx5_1"})
	coll := newTestCollector(t, root, 10, 16, lookup)
	coll.userCache[1000] = "alice"

	result, err := coll.collect()
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if len(result) != 2 {
		t.Fatalf("expected 2 interfaces, got %d", len(result))
	}

	procs := result["mlx5_1"]
	if len(procs) != 1 {
		t.Fatalf("expected 1 process on mlx5_1, got %d", len(procs))
	}
	proc1 := procs[0]
	if proc1.pid != 1234 {
		t.Fatalf("unexpected pid %d", proc1.pid)
	}
	if proc1.uid != 1000 || proc1.user != "alice" {
		t.Fatalf("unexpected owner %d/%q", proc1.uid, proc1.user)
	}
	if proc1.name != "proc" {
		t.Fatalf("unexpected name %q", proc1.name)
	}
	if proc1.command != "ib_write_bw -d mlx5_1" {
		t.Fatalf("unexpected cmd %q", proc1.command)
	}
	if proc1.fds != 2 {
		t.Fatalf("expected 2 fds, got %d", proc1.fds)
	}
	if !reflect.DeepEqual(proc1.devices, []string{"uverbs1"}) {
		t.Fatalf("unexpected devices %v", proc1.devices)
	}

	if procs := result["mlx5_0"]; len(procs) != 1 || procs[0].fds != 1 {
		t.Fatalf("unexpected mlx5_0 holders: %+v", procs)
	}
}

func TestCollectorIgnoresUnknownInterfaces(t *testing.T) {
	root := t.TempDir()
	proc := setupProcEntry(t, root, 42)
	proc.linkFD(t, "3", "/dev/infiniband/uverbs7")

	lookup := newVerbsLookup(map[string]string{"uverbs7": "hfi1_0"}, []string{"mlx5_0"})
	coll := newTestCollector(t, root, 10, 16, lookup)

	result, err := coll.collect()
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if len(result) != 0 {
		t.Fatalf("expected no holders, got %+v", result)
	}
}

func TestCollectorHonoursFDLimit(t *testing.T) {
	root := t.TempDir()
	proc := setupProcEntry(t, root, 42)
	for i := 0; i < 5; i++ {
		proc.linkFD(t, strconv.Itoa(i), "/dev/infiniband/uverbs0")
	}

	lookup := newVerbsLookup(map[string]string{"uverbs0": "mlx5_0"}, []string{"mlx5_0"})
	coll := newTestCollector(t, root, 10, 2, lookup)

	result, err := coll.collect()
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if procs := result["mlx5_0"]; len(procs) != 1 || procs[0].fds != 2 {
		t.Fatalf("expected fd scan capped at 2, got %+v", procs)
	}
}

func TestFormatCmdline(t *testing.T) {
	if got := formatCmdline([]byte("a\x00b\x00\x00c\x00")); got != "a b c" {
		t.Fatalf("unexpected cmdline %q", got)
	}
	if got := formatCmdline(nil); got != "" {
		t.Fatalf("expected empty cmdline, got %q", got)
	}
	long := strings.Repeat("x", 300)
	if got := formatCmdline([]byte(long)); len(got) != maxCommandLen {
		t.Fatalf("expected truncation to %d, got %d", maxCommandLen, len(got))
	}
}

func newTestCollector(t *testing.T, root string, maxPIDs, maxFDs int, lookup *verbsLookup) *collector {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	coll, err := newCollector(root, maxPIDs, maxFDs, lookup, logger)
	if err != nil {
		t.Fatalf("newCollector: %v", err)
	}
	t.Cleanup(func() { _ = coll.Close() })
	return coll
}

type procFixture struct {
	root string
	pid  int
}

func setupProcEntry(t *testing.T, root string, pid int) procFixture {
	t.Helper()
	procDir := procFixture{
		root: filepath.Join(root, strconv.Itoa(pid)),
		pid:  pid,
	}
	mustMkdir(t, filepath.Join(procDir.root, "fd"))

	writeFile(t, filepath.Join(procDir.root, "comm"), "proc\n")
	writeFile(t, filepath.Join(procDir.root, "cmdline"), "ib_write_bw\x00-d\x00mlx5_1\x00")
	writeFile(t, filepath.Join(procDir.root, "status"), "Name:\tproc\nUid:\t1000\t1000\t1000\t1000\n")

	return procDir
}

func (p procFixture) linkFD(t *testing.T, fd, target string) {
	t.Helper()
	if err := os.Symlink(target, filepath.Join(p.root, "fd", fd)); err != nil {
		t.Fatalf("symlink fd %s: %v", fd, err)
	}
}

func mustMkdir(t *testing.T, path string) {
	t.Helper()
	if err := os.MkdirAll(path, 0o755); err != nil {
		t.Fatalf("mkdir %s: %v", path, err)
	}
}

func writeFile(t *testing.T, path, contents string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir %s: %v", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write file %s: %v", path, err)
	}
}
