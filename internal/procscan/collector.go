package procscan

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"os/user"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
)

const maxCommandLen = 256

type rawProcess struct {
	pid     int
	uid     int
	user    string
	name    string
	command string
	devices []string
	fds     int
}

type collector struct {
	procRoot  *os.Root
	maxPIDs   int
	maxFDs    int
	lookup    *verbsLookup
	logger    *slog.Logger
	userCache map[int]string
}

func newCollector(procRoot string, maxPIDs, maxFDs int, lookup *verbsLookup, logger *slog.Logger) (*collector, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	root, err := os.OpenRoot(procRoot)
	if err != nil {
		return nil, fmt.Errorf("open proc root: %w", err)
	}

	return &collector{
		procRoot:  root,
		maxPIDs:   maxPIDs,
		maxFDs:    maxFDs,
		lookup:    lookup,
		logger:    logger,
		userCache: make(map[int]string),
	}, nil
}

// collect walks numeric /proc entries and groups processes by the interface
// whose verbs device they hold open.
func (c *collector) collect() (map[string][]rawProcess, error) {
	entries, err := fs.ReadDir(c.procRoot.FS(), ".")
	if err != nil {
		return nil, err
	}

	results := make(map[string][]rawProcess)
	var scanned int

	for _, entry := range entries {
		if c.maxPIDs > 0 && scanned >= c.maxPIDs {
			break
		}
		if !entry.IsDir() {
			continue
		}
		pid, err := strconv.Atoi(entry.Name())
		if err != nil || pid <= 0 {
			continue
		}
		scanned++

		procDir, err := c.procRoot.OpenRoot(entry.Name())
		if err != nil {
			continue
		}

		procs := c.scanProcess(pid, procDir)
		if err := procDir.Close(); err != nil {
			c.logger.Debug("failed to close proc dir", "pid", pid, "err", err)
		}

		for iface, raw := range procs {
			results[iface] = append(results[iface], raw)
		}
	}

	return results, nil
}

func (c *collector) scanProcess(pid int, procDir *os.Root) map[string]rawProcess {
	fdEntries, err := fs.ReadDir(procDir.FS(), "fd")
	if err != nil {
		return nil
	}

	result := make(map[string]*rawProcess)
	fdCount := 0

	for _, fdEntry := range fdEntries {
		if c.maxFDs > 0 && fdCount >= c.maxFDs {
			break
		}
		fdCount++

		target, err := procDir.Readlink(filepath.Join("fd", fdEntry.Name()))
		if err != nil {
			continue
		}
		target = filepath.Clean(strings.TrimSuffix(target, " (deleted)"))

		iface, device, ok := c.lookup.match(target)
		if !ok {
			continue
		}

		raw := result[iface]
		if raw == nil {
			raw = &rawProcess{pid: pid}
			result[iface] = raw
		}
		raw.fds++
		if !slices.Contains(raw.devices, device) {
			raw.devices = append(raw.devices, device)
		}
	}

	if len(result) == 0 {
		return nil
	}

	comm, err := readTrimmed(procDir, "comm")
	if err != nil {
		return nil
	}
	uid, err := readUID(procDir, "status")
	if err != nil {
		return nil
	}
	cmdline, err := procDir.ReadFile("cmdline")
	if err != nil {
		cmdline = nil
	}
	command := formatCmdline(cmdline)
	userName := c.lookupUser(uid)

	out := make(map[string]rawProcess, len(result))
	for iface, raw := range result {
		raw.uid = uid
		raw.user = userName
		raw.name = comm
		raw.command = command
		slices.Sort(raw.devices)
		out[iface] = *raw
	}
	return out
}

func (c *collector) lookupUser(uid int) string {
	if name, ok := c.userCache[uid]; ok {
		return name
	}
	name := strconv.Itoa(uid)
	if u, err := user.LookupId(strconv.Itoa(uid)); err == nil {
		if u.Username != "" {
			name = u.Username
		}
	}
	c.userCache[uid] = name
	return name
}

// Close releases the /proc root handle.
func (c *collector) Close() error {
	if c.procRoot == nil {
		return nil
	}
	return c.procRoot.Close()
}

func readTrimmed(root *os.Root, name string) (string, error) {
	data, err := root.ReadFile(name)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

func readUID(root *os.Root, name string) (int, error) {
	data, err := root.ReadFile(name)
	if err != nil {
		return 0, err
	}
	for _, line := range strings.Split(string(data), "\n") {
		rest, ok := strings.CutPrefix(line, "Uid:")
		if !ok {
			continue
		}
		fields := strings.Fields(rest)
		if len(fields) == 0 {
			continue
		}
		return strconv.Atoi(fields[0])
	}
	return 0, errors.New("uid not found")
}

func formatCmdline(data []byte) string {
	if len(data) == 0 {
		return ""
	}
	parts := strings.Split(string(data), "\x00")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if part != "" {
			out = append(out, part)
		}
	}
	cmd := strings.Join(out, " ")
	if len(cmd) > maxCommandLen {
		return cmd[:maxCommandLen]
	}
	return cmd
}
