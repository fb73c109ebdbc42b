//go:build linux

package jobsched

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

const defaultPowerSupplyPath = "/sys/class/power_supply"

var errBootIDUnsupported = errors.New("boot id not available")

// readPowerOnline reports whether any mains supply under dir is online.
// Hosts without supplies are treated as always on power.
func readPowerOnline(dir string) bool {
	entries, err := os.ReadDir(dir)
	if err != nil || len(entries) == 0 {
		return true
	}
	sawMains := false
	for _, e := range entries {
		base := filepath.Join(dir, e.Name())
		kind, err := os.ReadFile(filepath.Join(base, "type"))
		if err != nil || strings.TrimSpace(string(kind)) != "Mains" {
			continue
		}
		sawMains = true
		online, err := os.ReadFile(filepath.Join(base, "online"))
		if err == nil && strings.TrimSpace(string(online)) == "1" {
			return true
		}
	}
	return !sawMains
}

func readBootID() (string, error) {
	b, err := os.ReadFile("/proc/sys/kernel/random/boot_id")
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", errBootIDUnsupported
		}
		return "", err
	}
	return strings.TrimSpace(string(b)), nil
}

func readLoadAvg() (float64, error) {
	b, err := os.ReadFile("/proc/loadavg")
	if err != nil {
		return 0, err
	}
	fields := strings.Fields(string(b))
	if len(fields) == 0 {
		return 0, fmt.Errorf("unexpected /proc/loadavg format")
	}
	return strconv.ParseFloat(fields[0], 64)
}
