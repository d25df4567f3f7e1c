package procscan

import (
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

const (
	verbsClassPath = "class/infiniband_verbs"
	verbsDevDir    = "/dev/infiniband"
	verbsPrefix    = "uverbs"
)

// VerbsDevices maps uverbs character device names (uverbs0) to the
// InfiniBand interface they expose (mlx5_0).
func VerbsDevices(sysfsRoot string, logger *slog.Logger) (map[string]string, error) {
	if logger == nil {
		logger = slog.Default()
	}
	root, err := os.OpenRoot(sysfsRoot)
	if err != nil {
		return nil, fmt.Errorf("open sysfs root: %w", err)
	}
	defer root.Close()

	entries, err := fs.ReadDir(root.FS(), verbsClassPath)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", verbsClassPath, err)
	}

	devices := make(map[string]string, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasPrefix(name, verbsPrefix) {
			continue
		}
		data, err := root.ReadFile(filepath.Join(verbsClassPath, name, "ibdev"))
		if err != nil {
			logger.Debug("failed to read ibdev", "device", name, "err", err)
			continue
		}
		iface := strings.TrimSpace(string(data))
		if iface == "" {
			continue
		}
		devices[name] = iface
	}
	return devices, nil
}

type verbsLookup struct {
	byDevice map[string]string
}

func newVerbsLookup(devices map[string]string, interfaces []string) *verbsLookup {
	known := make(map[string]struct{}, len(interfaces))
	for _, name := range interfaces {
		known[name] = struct{}{}
	}
	byDevice := make(map[string]string, len(devices))
	for dev, iface := range devices {
		if _, ok := known[iface]; ok {
			byDevice[dev] = iface
		}
	}
	return &verbsLookup{byDevice: byDevice}
}

// match resolves an fd target such as /dev/infiniband/uverbs0.
func (l *verbsLookup) match(target string) (iface, device string, ok bool) {
	if filepath.Dir(target) != verbsDevDir {
		return "", "", false
	}
	device = filepath.Base(target)
	iface, ok = l.byDevice[device]
	return iface, device, ok
}
