// Package ib discovers InfiniBand devices and their ports exposed via sysfs.
package ib

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// ClassPath is the InfiniBand device class relative to the sysfs root.
const ClassPath = "class/infiniband"

// Interface describes a single InfiniBand device discovered via sysfs.
type Interface struct {
	Name            string   `json:"name"`
	Ports           []string `json:"ports"`
	FirmwareVersion string   `json:"fw_ver,omitempty"`
	NodeGUID        string   `json:"node_guid,omitempty"`
	PCIID           string   `json:"pci_id,omitempty"`
	Product         string   `json:"product,omitempty"`
}

// PortRef identifies one port of one interface.
type PortRef struct {
	Interface string `json:"interface"`
	Port      string `json:"port"`
}

func (r PortRef) String() string {
	return r.Interface + "/" + r.Port
}

// PortRefs flattens interfaces into (interface, port) pairs, keeping discovery order.
func PortRefs(ifaces []Interface) []PortRef {
	var refs []PortRef
	for _, iface := range ifaces {
		for _, port := range iface.Ports {
			refs = append(refs, PortRef{Interface: iface.Name, Port: port})
		}
	}
	return refs
}

// Discover enumerates InfiniBand devices under root (normally "/sys").
//
// Every entry of class/infiniband that opens as a directory is an interface.
// A missing class directory yields an empty result, not an error. Entries are
// returned in directory order.
func Discover(root string, logger *slog.Logger) ([]Interface, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	sysRoot, err := os.OpenRoot(root)
	if err != nil {
		return nil, fmt.Errorf("open sysfs root: %w", err)
	}
	defer sysRoot.Close()

	names, err := readDirNames(sysRoot, ClassPath)
	if err != nil {
		logger.Warn("infiniband class path unavailable", "path", filepath.Join(root, ClassPath), "err", err)
		return nil, nil
	}
	logger.Debug("scanning infiniband class", "path", filepath.Join(root, ClassPath), "entries", len(names))

	var ifaces []Interface
	for _, name := range names {
		ifacePath := filepath.Join(ClassPath, name)
		ifaceRoot, err := sysRoot.OpenRoot(ifacePath)
		if err != nil {
			logger.Debug("skipping entry", "entry", name, "err", err)
			continue
		}
		if err := ifaceRoot.Close(); err != nil {
			logger.Debug("failed to close interface root", "interface", name, "err", err)
		}

		iface := Interface{Name: name}
		logger.Info("found interface", "interface", name)

		ports, err := readDirNames(sysRoot, filepath.Join(ifacePath, "ports"))
		if err != nil {
			logger.Warn("failed to open ports directory", "interface", name, "err", err)
		} else {
			iface.Ports = ports
			for _, port := range ports {
				logger.Info("found port", "interface", name, "port", port)
			}
		}

		loadMetadata(sysRoot, &iface, logger)
		ifaces = append(ifaces, iface)
	}

	return ifaces, nil
}

// readDirNames lists a directory without sorting, unlike os.ReadDir.
func readDirNames(root *os.Root, path string) ([]string, error) {
	dir, err := root.Open(path)
	if err != nil {
		return nil, err
	}
	defer dir.Close()

	entries, err := dir.ReadDir(-1)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		names = append(names, entry.Name())
	}
	return names, nil
}

func loadMetadata(sysRoot *os.Root, iface *Interface, logger *slog.Logger) {
	base := filepath.Join(ClassPath, iface.Name)
	read := func(rel ...string) string {
		path := filepath.Join(append([]string{base}, rel...)...)
		value, err := readTrim(sysRoot, path)
		if err != nil {
			logger.Debug("metadata unavailable", "interface", iface.Name, "file", path, "err", err)
			return ""
		}
		return value
	}

	iface.FirmwareVersion = read("fw_ver")
	iface.NodeGUID = read("node_guid")

	ids := pciIDs{
		vendor:    read("device", "vendor"),
		device:    read("device", "device"),
		subVendor: read("device", "subsystem_vendor"),
		subDevice: read("device", "subsystem_device"),
	}
	iface.PCIID = ids.String()
	iface.Product = lookupProduct(ids)
}

func readTrim(root *os.Root, name string) (string, error) {
	data, err := root.ReadFile(name)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}
