package ib

import (
	"strings"
	"sync"

	"github.com/jaypipes/pcidb"
)

var loadPCIDB = sync.OnceValues(func() (*pcidb.PCIDB, error) {
	return pcidb.New()
})

type pciIDs struct {
	vendor    string
	device    string
	subVendor string
	subDevice string
}

// String renders "vendor:device", or "" when either half is unknown.
func (ids pciIDs) String() string {
	vendor, device := normalizePCIID(ids.vendor), normalizePCIID(ids.device)
	if vendor == "" || device == "" {
		return ""
	}
	return vendor + ":" + device
}

// lookupProduct resolves an HCA marketing name from the PCI ID database,
// preferring the subsystem entry when one matches.
func lookupProduct(ids pciIDs) string {
	vendor, device := normalizePCIID(ids.vendor), normalizePCIID(ids.device)
	if vendor == "" || device == "" {
		return ""
	}

	db, err := loadPCIDB()
	if err != nil || db == nil {
		return ""
	}

	product, ok := db.Products[vendor+device]
	if !ok || product == nil {
		return ""
	}

	subVendor, subDevice := normalizePCIID(ids.subVendor), normalizePCIID(ids.subDevice)
	if subVendor != "" && subDevice != "" {
		for _, sub := range product.Subsystems {
			if sub == nil || sub.Name == "" {
				continue
			}
			if strings.EqualFold(sub.VendorID, subVendor) && strings.EqualFold(sub.ID, subDevice) {
				return sub.Name
			}
		}
	}

	return product.Name
}

// normalizePCIID turns sysfs values like "0x15b3" into "15b3".
func normalizePCIID(raw string) string {
	value := strings.ToLower(strings.TrimSpace(raw))
	value = strings.TrimPrefix(value, "0x")
	if value == "" {
		return ""
	}
	if len(value) < 4 {
		value = strings.Repeat("0", 4-len(value)) + value
	}
	return value
}
