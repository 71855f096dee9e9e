package enumerate

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/shirou/gopsutil/v3/disk"

	"github.com/nerrad567/deviceguard/internal/device"
)

// DefaultSysfsRoot is where the kernel lists USB devices.
const DefaultSysfsRoot = "/sys/bus/usb/devices"

// maxDescriptorsSize bounds the raw descriptors read per device.
const maxDescriptorsSize = 64 << 10

// MountLister returns mounted partitions. Defaults to gopsutil.
type MountLister func(ctx context.Context) ([]disk.PartitionStat, error)

// SysfsSource enumerates USB devices from Linux sysfs.
type SysfsSource struct {
	root   string
	devDir string
	mounts MountLister

	readPartitionTable bool
	logger             Logger
}

// SysfsOption configures a SysfsSource.
type SysfsOption func(*SysfsSource)

// WithDevDir sets where block device nodes live (default /dev).
func WithDevDir(dir string) SysfsOption {
	return func(s *SysfsSource) { s.devDir = dir }
}

// WithMountLister replaces the mount table lookup.
func WithMountLister(m MountLister) SysfsOption {
	return func(s *SysfsSource) { s.mounts = m }
}

// WithPartitionTable enables reading the MBR/GPT disk identifier from the
// block device. Needs read access to the device node.
func WithPartitionTable(enabled bool) SysfsOption {
	return func(s *SysfsSource) { s.readPartitionTable = enabled }
}

// WithLogger sets the logger.
func WithLogger(l Logger) SysfsOption {
	return func(s *SysfsSource) { s.logger = l }
}

// NewSysfsSource creates a source reading root (DefaultSysfsRoot if empty).
func NewSysfsSource(root string, opts ...SysfsOption) *SysfsSource {
	if root == "" {
		root = DefaultSysfsRoot
	}
	s := &SysfsSource{
		root:   root,
		devDir: "/dev",
		mounts: func(ctx context.Context) ([]disk.PartitionStat, error) {
			return disk.PartitionsWithContext(ctx, false)
		},
		logger: noopLogger{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Enumerate implements Source. Devices that cannot be read are skipped.
func (s *SysfsSource) Enumerate(ctx context.Context) ([]device.Descriptor, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", s.root, err)
	}

	var mounts []disk.PartitionStat
	mountsLoaded := false

	var out []device.Descriptor
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		name := entry.Name()
		// Root hubs are usbN; interfaces are <dev>:<cfg>.<if>.
		if strings.HasPrefix(name, "usb") || strings.Contains(name, ":") {
			continue
		}

		d, err := s.readDevice(filepath.Join(s.root, name))
		if err != nil {
			s.logger.Debug("skipping usb device", "device", name, "error", err)
			continue
		}

		if d.Class == device.ClassStorage {
			if !mountsLoaded {
				mounts, err = s.mounts(ctx)
				if err != nil {
					s.logger.Warn("listing mounts failed", "error", err)
				}
				mountsLoaded = true
			}
			s.attachStorage(&d, mounts)
		}
		out = append(out, d)
	}
	return out, nil
}

func (s *SysfsSource) readDevice(path string) (device.Descriptor, error) {
	vid, err := readHexUint16(filepath.Join(path, "idVendor"))
	if err != nil {
		return device.Descriptor{}, err
	}
	pid, err := readHexUint16(filepath.Join(path, "idProduct"))
	if err != nil {
		return device.Descriptor{}, err
	}

	d := device.Descriptor{
		VendorID:  vid,
		ProductID: pid,
		Serial:    readStringOr(filepath.Join(path, "serial"), ""),
		SysPath:   path,
		Class:     device.ClassOther,
	}
	manufacturer := readStringOr(filepath.Join(path, "manufacturer"), "")
	product := readStringOr(filepath.Join(path, "product"), "")
	d.Name = displayName(manufacturer, product, vid, pid)

	raw, err := readLimited(filepath.Join(path, "descriptors"), maxDescriptorsSize)
	if err == nil {
		ext, perr := device.ParseDescriptors(raw)
		if perr != nil {
			s.logger.Debug("unparseable descriptors", "device", path, "error", perr)
		} else {
			ext.Manufacturer = manufacturer
			ext.Product = product
			d.Extended = ext
		}
	}

	if d.Extended.HasInterfaceClass(device.InterfaceClassMassStorage) || hasMassStorageInterface(path) {
		d.Class = device.ClassStorage
	}
	return d, nil
}

func displayName(manufacturer, product string, vid, pid uint16) string {
	name := strings.TrimSpace(manufacturer + " " + product)
	if name == "" {
		return fmt.Sprintf("USB device %04X:%04X", vid, pid)
	}
	return name
}

// hasMassStorageInterface checks the interface directories, for devices
// whose descriptors blob could not be read.
func hasMassStorageInterface(path string) bool {
	ifaces, _ := filepath.Glob(filepath.Join(path, filepath.Base(path)+":*"))
	for _, iface := range ifaces {
		c, err := readHexUint8(filepath.Join(iface, "bInterfaceClass"))
		if err == nil && c == device.InterfaceClassMassStorage {
			return true
		}
	}
	return false
}

// attachStorage resolves the block device behind a mass-storage device,
// its mount point and geometry.
func (s *SysfsSource) attachStorage(d *device.Descriptor, mounts []disk.PartitionStat) {
	blocks, _ := filepath.Glob(filepath.Join(d.SysPath, "*:*", "host*", "target*", "*", "block", "*"))
	if len(blocks) == 0 {
		return
	}
	sort.Strings(blocks)
	blockPath := blocks[0]
	blockName := filepath.Base(blockPath)

	d.DriveLetter = mountPointFor(filepath.Join(s.devDir, blockName), mounts)

	if d.Extended == nil {
		return
	}
	geo := &device.StorageGeometry{
		Model: readStringOr(filepath.Join(blockPath, "device", "model"), ""),
	}
	if sectors, err := readUint(filepath.Join(blockPath, "size")); err == nil {
		// sysfs reports size in 512-byte units regardless of block size.
		geo.SizeBytes = sectors * 512
	}
	if bs, err := readUint(filepath.Join(blockPath, "queue", "logical_block_size")); err == nil {
		geo.BlockSize = uint32(bs) //nolint:gosec // kernel block sizes fit uint32
	}
	if s.readPartitionTable {
		sig, err := ReadPartitionTableID(filepath.Join(s.devDir, blockName), geo.BlockSize)
		if err != nil && !errors.Is(err, errNoPartitionTable) {
			s.logger.Debug("reading partition table", "device", blockName, "error", err)
		}
		geo.PartitionTable = sig
	}
	d.Extended.Storage = geo
}

// mountPointFor returns the first mount point, in sorted order, of the
// whole disk devNode or any of its partitions.
func mountPointFor(devNode string, mounts []disk.PartitionStat) string {
	var points []string
	for _, m := range mounts {
		if m.Device == devNode || isPartitionOf(m.Device, devNode) {
			points = append(points, m.Mountpoint)
		}
	}
	if len(points) == 0 {
		return ""
	}
	sort.Strings(points)
	return points[0]
}

// isPartitionOf matches /dev/sdb1 to /dev/sdb and /dev/mmcblk0p1 to
// /dev/mmcblk0.
func isPartitionOf(dev, whole string) bool {
	rest, ok := strings.CutPrefix(dev, whole)
	if !ok || rest == "" {
		return false
	}
	rest = strings.TrimPrefix(rest, "p")
	_, err := strconv.Atoi(rest)
	return err == nil
}

func readLimited(path string, limit int64) ([]byte, error) {
	f, err := os.Open(path) //nolint:gosec // sysfs attribute path
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(io.LimitReader(f, limit))
}

func readStringOr(path, fallback string) string {
	data, err := readLimited(path, 4096)
	if err != nil {
		return fallback
	}
	return strings.TrimSpace(string(data))
}

func readUint(path string) (uint64, error) {
	s := readStringOr(path, "")
	return strconv.ParseUint(s, 10, 64)
}

func readHexUint16(path string) (uint16, error) {
	data, err := readLimited(path, 64)
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseUint(strings.TrimPrefix(strings.TrimSpace(string(data)), "0x"), 16, 16)
	if err != nil {
		return 0, fmt.Errorf("parsing %s: %w", path, err)
	}
	return uint16(v), nil
}

func readHexUint8(path string) (uint8, error) {
	v, err := readHexUint16(path)
	if err != nil {
		return 0, err
	}
	if v > 0xFF {
		return 0, fmt.Errorf("parsing %s: %w", path, os.ErrInvalid)
	}
	return uint8(v), nil
}
