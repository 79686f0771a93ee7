//go:build windows
// +build windows

package systeminfo

import (
	"os"
	"strings"

	"github.com/shirou/gopsutil/v4/host"
)

// Windows has no numeric process uid; ProcessIdentity falls back to the
// current account.
func effectiveUID() int {
	return -1
}

func ownerIDs(info os.FileInfo) (string, string, bool) {
	return "", "", false
}

// Uname approximates the unix uname string from host information.
func Uname() (string, error) {
	info, err := host.Info()
	if err != nil {
		return "", err
	}
	parts := []string{"Windows NT", info.Hostname, info.PlatformVersion, info.Platform, info.KernelArch}
	return strings.Join(parts, " "), nil
}
