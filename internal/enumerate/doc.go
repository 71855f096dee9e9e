// Package enumerate lists the USB devices attached to the host.
//
// SysfsSource reads /sys/bus/usb/devices: ids and strings from the device
// attributes, the descriptor tree from the raw "descriptors" blob, and for
// mass-storage devices the block device, mount point (via gopsutil),
// capacity, model and partition table identifier.
//
// Enumerator adds the guarantees callers rely on: each pass is bounded by
// a timeout, concurrent callers share one pass, and failure degrades to an
// empty snapshot instead of an error.
package enumerate
