//go:build !linux

package jobsched

import "errors"

const defaultPowerSupplyPath = ""

var errBootIDUnsupported = errors.New("boot id not available")

func readPowerOnline(string) bool { return true }

func readBootID() (string, error) { return "", errBootIDUnsupported }

func readLoadAvg() (float64, error) { return 0, errors.New("load average not available") }
