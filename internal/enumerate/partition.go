package enumerate

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/google/uuid"
)

var errNoPartitionTable = errors.New("no partition table")

const (
	mbrSignatureOffset = 440
	mbrBootSigOffset   = 510
	gptHeaderMagic     = "EFI PART"
	gptDiskGUIDOffset  = 56
)

// ReadPartitionTableID returns the disk identifier of the partition table
// on devNode: "gpt:<disk guid>" or "mbr:<8 hex digits>". blockSize locates
// the GPT header and defaults to 512.
func ReadPartitionTableID(devNode string, blockSize uint32) (string, error) {
	if blockSize == 0 {
		blockSize = 512
	}
	f, err := os.Open(devNode) //nolint:gosec // device node resolved from sysfs
	if err != nil {
		return "", err
	}
	defer f.Close()

	buf := make([]byte, int(blockSize)*2)
	n, err := io.ReadFull(f, buf)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
		return "", fmt.Errorf("reading %s: %w", devNode, err)
	}
	return partitionTableID(buf[:n], int(blockSize))
}

func partitionTableID(buf []byte, blockSize int) (string, error) {
	if len(buf) >= blockSize+gptDiskGUIDOffset+16 &&
		string(buf[blockSize:blockSize+len(gptHeaderMagic)]) == gptHeaderMagic {
		g := buf[blockSize+gptDiskGUIDOffset : blockSize+gptDiskGUIDOffset+16]
		// GPT stores the first three GUID fields little-endian.
		var be [16]byte
		binary.BigEndian.PutUint32(be[0:4], binary.LittleEndian.Uint32(g[0:4]))
		binary.BigEndian.PutUint16(be[4:6], binary.LittleEndian.Uint16(g[4:6]))
		binary.BigEndian.PutUint16(be[6:8], binary.LittleEndian.Uint16(g[6:8]))
		copy(be[8:], g[8:16])
		id, err := uuid.FromBytes(be[:])
		if err != nil {
			return "", err
		}
		return "gpt:" + id.String(), nil
	}

	if len(buf) >= mbrBootSigOffset+2 && buf[mbrBootSigOffset] == 0x55 && buf[mbrBootSigOffset+1] == 0xAA {
		sig := binary.LittleEndian.Uint32(buf[mbrSignatureOffset : mbrSignatureOffset+4])
		return fmt.Sprintf("mbr:%08x", sig), nil
	}
	return "", errNoPartitionTable
}
