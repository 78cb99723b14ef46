package gpu

import (
	"strings"
	"sync"

	"github.com/jaypipes/pcidb"
)

var (
	pciOnce sync.Once
	pciDB   *pcidb.PCIDB
	pciErr  error
)

// pciIdentity holds the vendor/device pair of a PCI function and its
// subsystem pair when known. All IDs are normalized lowercase hex.
type pciIdentity struct {
	Vendor    string
	Device    string
	SubVendor string
	SubDevice string
}

func newPCIIdentity(vendor, device, subVendor, subDevice string) pciIdentity {
	return pciIdentity{
		Vendor:    normalizePCIID(vendor),
		Device:    normalizePCIID(device),
		SubVendor: normalizePCIID(subVendor),
		SubDevice: normalizePCIID(subDevice),
	}
}

// String renders the identity as "vendor:device", or "" when incomplete.
func (id pciIdentity) String() string {
	if id.Vendor == "" || id.Device == "" {
		return ""
	}
	return id.Vendor + ":" + id.Device
}

// lookupName prefers the subsystem (board) name over the chip name.
func (id pciIdentity) lookupName() string {
	if id.String() == "" {
		return ""
	}

	db := pciDatabase()
	if db == nil {
		return ""
	}

	product, ok := db.Products[id.Vendor+id.Device]
	if !ok || product == nil {
		return ""
	}

	if id.SubVendor != "" && id.SubDevice != "" {
		for _, subsystem := range product.Subsystems {
			if subsystem == nil || subsystem.Name == "" {
				continue
			}
			if strings.EqualFold(subsystem.VendorID, id.SubVendor) && strings.EqualFold(subsystem.ID, id.SubDevice) {
				return subsystem.Name
			}
		}
	}

	return product.Name
}

func pciDatabase() *pcidb.PCIDB {
	pciOnce.Do(func() {
		pciDB, pciErr = pcidb.New()
	})
	if pciErr != nil {
		return nil
	}
	return pciDB
}

func normalizePCIID(raw string) string {
	value := strings.TrimSpace(raw)
	value = strings.TrimPrefix(value, "0x")
	value = strings.TrimPrefix(value, "0X")
	if value == "" {
		return ""
	}
	value = strings.ToLower(value)
	if len(value) < 4 {
		value = strings.Repeat("0", 4-len(value)) + value
	}
	return value
}

func shouldUseResolvedName(current, resolved string) bool {
	if resolved == "" {
		return false
	}
	lower := strings.ToLower(strings.TrimSpace(current))
	if lower == "" {
		return true
	}
	// nvidia-smi cuts long product names to fit its table column.
	if strings.HasSuffix(lower, "...") {
		return true
	}
	switch lower {
	case "unknown", "n/a", "[n/a]":
		return true
	}
	return strings.HasPrefix(lower, "pci device") || strings.HasPrefix(lower, "0x")
}
