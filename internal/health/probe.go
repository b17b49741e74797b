package health

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"
)

// ThermalZonePath is the sysfs file holding the SoC temperature on a
// Raspberry Pi, in millidegrees Celsius
const ThermalZonePath = "/sys/class/thermal/thermal_zone0/temp"

func readCoreTemp(path string) (float64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("reading thermal zone: %w", err)
	}

	milli, err := strconv.ParseFloat(strings.TrimSpace(string(data)), 64)
	if err != nil {
		return 0, fmt.Errorf("parsing thermal zone value: %w", err)
	}

	return milli / 1000, nil
}

// freeSpace returns the bytes available to unprivileged users on the
// filesystem containing path
func freeSpace(path string) (uint64, error) {
	var st syscall.Statfs_t
	if err := syscall.Statfs(path, &st); err != nil {
		return 0, fmt.Errorf("statfs %s: %w", path, err)
	}

	return uint64(st.Bavail) * uint64(st.Bsize), nil
}
