package fatfs

import (
	"encoding/binary"
	"fmt"
	"math/bits"
)

// checkBootSector validates the BIOS parameter block of a FAT32 boot sector.
// The backend only checks the signature, and a header with a zero cluster
// size or FAT count would otherwise mount and fail on first use.
func checkBootSector(b []byte) error {
	if len(b) < SectorSize {
		return fmt.Errorf("boot sector is %d bytes", len(b))
	}

	bytesPerSector := binary.LittleEndian.Uint16(b[11:13])
	sectorsPerCluster := uint32(b[13])
	reservedSectors := uint32(binary.LittleEndian.Uint16(b[14:16]))
	fatCount := uint32(b[16])
	totalSectors := uint32(binary.LittleEndian.Uint16(b[19:21]))
	if totalSectors == 0 {
		totalSectors = binary.LittleEndian.Uint32(b[32:36])
	}
	sectorsPerFat := binary.LittleEndian.Uint32(b[36:40])
	rootCluster := binary.LittleEndian.Uint32(b[44:48])

	switch {
	case bytesPerSector != SectorSize:
		return fmt.Errorf("bytes per sector is %d", bytesPerSector)
	case sectorsPerCluster == 0 || bits.OnesCount32(sectorsPerCluster) != 1:
		return fmt.Errorf("sectors per cluster is %d", sectorsPerCluster)
	case reservedSectors == 0:
		return fmt.Errorf("no reserved sectors")
	case fatCount == 0:
		return fmt.Errorf("no FAT copies")
	case sectorsPerFat == 0:
		return fmt.Errorf("FAT size is zero")
	}

	meta := uint64(reservedSectors) + uint64(fatCount)*uint64(sectorsPerFat)
	if meta >= uint64(totalSectors) {
		return fmt.Errorf("%d metadata sectors leave no data area in %d sectors", meta, totalSectors)
	}
	clusters := (uint64(totalSectors) - meta) / uint64(sectorsPerCluster)
	if rootCluster < 2 || uint64(rootCluster) > clusters+1 {
		return fmt.Errorf("root cluster %#x outside [2, %d]", rootCluster, clusters+1)
	}
	return nil
}
