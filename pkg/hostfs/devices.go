package hostfs

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// sysBlockPath is swapped in tests.
var sysBlockPath = "/sys/class/block"

// SplitPartition breaks a partition device into its parent disk and partition
// number. Returns ok=false when the device is a whole disk.
//
//	/dev/nvme0n1p1 -> /dev/nvme0n1, 1
//	/dev/xvda1     -> /dev/xvda, 1
func SplitPartition(device string) (string, int, bool) {
	name := filepath.Base(device)
	dir := filepath.Dir(device)

	if strings.HasPrefix(name, "nvme") {
		idx := strings.LastIndex(name, "p")
		if idx <= 0 {
			return "", 0, false
		}
		num, err := strconv.Atoi(name[idx+1:])
		if err != nil {
			return "", 0, false
		}
		return filepath.Join(dir, name[:idx]), num, true
	}

	trimmed := strings.TrimRightFunc(name, func(r rune) bool { return r >= '0' && r <= '9' })
	if trimmed == name || trimmed == "" {
		return "", 0, false
	}
	num, err := strconv.Atoi(name[len(trimmed):])
	if err != nil {
		return "", 0, false
	}
	return filepath.Join(dir, trimmed), num, true
}

// VolumeIDForDevice resolves the provider volume id of an NVMe-attached EBS
// device from its controller serial, e.g. "vol0f1e2d..." -> "vol-0f1e2d...".
// Returns an empty string when the device carries no volume serial.
func VolumeIDForDevice(device string) string {
	name := filepath.Base(device)
	if !strings.HasPrefix(name, "nvme") {
		return ""
	}
	// The serial lives on the parent disk for partition devices.
	if parent, _, ok := SplitPartition(device); ok {
		name = filepath.Base(parent)
	}
	raw, err := os.ReadFile(filepath.Join(sysBlockPath, name, "device", "serial"))
	if err != nil {
		return ""
	}
	serial := strings.TrimSpace(string(raw))
	if !strings.HasPrefix(serial, "vol") {
		// Instance store and other non-EBS devices carry unrelated serials.
		return ""
	}
	if strings.HasPrefix(serial, "vol-") {
		return serial
	}
	return "vol-" + strings.TrimPrefix(serial, "vol")
}

// SameAttachmentDevice reports whether a locally visible device name refers to
// the device name the provider reported for an attachment. Xen instances
// rename sdX attachments to xvdX.
func SameAttachmentDevice(local, attachment string) bool {
	if local == attachment {
		return true
	}
	return strings.Replace(attachment, "/dev/sd", "/dev/xvd", 1) == local ||
		strings.Replace(local, "/dev/sd", "/dev/xvd", 1) == attachment
}
