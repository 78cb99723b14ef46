// Package gpu enriches devices reported by nvidia-smi with PCI details from sysfs.
package gpu

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"strings"

	"github.com/skobkin/nvsmiplot/internal/extract"
)

const pciDevicesPath = "bus/pci/devices"

// Info describes a single GPU seen in the tool output.
type Info struct {
	Index   int    `json:"index" yaml:"index"`
	BusID   string `json:"bus_id" yaml:"bus_id"`
	PCISlot string `json:"pci_slot,omitempty" yaml:"pci_slot,omitempty"`
	PCIID   string `json:"pci_id,omitempty" yaml:"pci_id,omitempty"`
	Name    string `json:"name" yaml:"name"`
}

// Label is the legend text for the device.
func (i Info) Label() string {
	if i.Name == "" {
		return fmt.Sprintf("GPU %d", i.Index)
	}
	return fmt.Sprintf("GPU %d (%s)", i.Index, i.Name)
}

// Resolve returns one Info per device. Devices whose PCI function can be read
// under root get a PCI ID, and truncated or missing names are replaced with the
// pci.ids name. Lookup failures only cost the enrichment, never the device.
func Resolve(root string, devices []extract.Device, logger *slog.Logger) []Info {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	infos := make([]Info, 0, len(devices))
	for _, device := range devices {
		infos = append(infos, Info{
			Index:   device.Index,
			BusID:   device.BusID,
			PCISlot: normalizeBusID(device.BusID),
			Name:    device.Name,
		})
	}
	if len(infos) == 0 || root == "" {
		return infos
	}

	sysRoot, err := os.OpenRoot(root)
	if err != nil {
		logger.Debug("sysfs root unavailable", "root", root, "err", err)
		return infos
	}
	defer sysRoot.Close()

	for i := range infos {
		info := &infos[i]
		if info.PCISlot == "" {
			continue
		}

		id, err := readPCIIdentity(sysRoot, path.Join(pciDevicesPath, info.PCISlot))
		if err != nil {
			logger.Debug("pci device unavailable", "gpu", info.Index, "slot", info.PCISlot, "err", err)
			continue
		}
		info.PCIID = id.String()

		if resolved := id.lookupName(); shouldUseResolvedName(info.Name, resolved) {
			logger.Debug("gpu name resolved", "gpu", info.Index, "from", info.Name, "to", resolved)
			info.Name = resolved
		}
	}

	return infos
}

// Names maps device indexes to legend labels.
func Names(infos []Info) map[int]string {
	out := make(map[int]string, len(infos))
	for _, info := range infos {
		out[info.Index] = info.Label()
	}
	return out
}

func readPCIIdentity(sysRoot *os.Root, dir string) (pciIdentity, error) {
	deviceRoot, err := sysRoot.OpenRoot(dir)
	if err != nil {
		return pciIdentity{}, fmt.Errorf("open device root: %w", err)
	}
	defer deviceRoot.Close()

	var vendor, device, subVendor, subDevice string

	if data, err := deviceRoot.ReadFile("uevent"); err == nil {
		text := string(data)
		vendor, device = splitPair(parseKeyValue(text, "PCI_ID"))
		subVendor, subDevice = splitPair(parseKeyValue(text, "PCI_SUBSYS_ID"))
	}

	if vendor == "" || device == "" {
		vendor, _ = readTrim(deviceRoot, "vendor")
		device, _ = readTrim(deviceRoot, "device")
	}
	if subVendor == "" || subDevice == "" {
		subVendor, _ = readTrim(deviceRoot, "subsystem_vendor")
		subDevice, _ = readTrim(deviceRoot, "subsystem_device")
	}

	id := newPCIIdentity(vendor, device, subVendor, subDevice)
	if id.String() == "" {
		return pciIdentity{}, fmt.Errorf("no vendor/device ids in %s", dir)
	}
	return id, nil
}

// normalizeBusID converts nvidia-smi's bus id ("00000000:01:00.0") into the
// sysfs slot name ("0000:01:00.0").
func normalizeBusID(busID string) string {
	value := strings.ToLower(strings.TrimSpace(busID))
	if value == "" {
		return ""
	}
	parts := strings.Split(value, ":")
	switch len(parts) {
	case 2:
		return "0000:" + value
	case 3:
		domain := parts[0]
		if len(domain) > 4 {
			domain = domain[len(domain)-4:]
		}
		return domain + ":" + parts[1] + ":" + parts[2]
	default:
		return ""
	}
}

func parseKeyValue(data, key string) string {
	prefix := key + "="
	scanner := bufio.NewScanner(strings.NewReader(data))
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, prefix) {
			return strings.TrimSpace(strings.TrimPrefix(line, prefix))
		}
	}
	return ""
}

func splitPair(value string) (string, string) {
	first, second, ok := strings.Cut(value, ":")
	if !ok {
		return "", ""
	}
	return first, second
}

func readTrim(root *os.Root, name string) (string, error) {
	data, err := root.ReadFile(name)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}
