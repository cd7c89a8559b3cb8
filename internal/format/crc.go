package format

import "hash/crc32"

// CRC16Init is the seed of the configuration CRC.
const CRC16Init uint16 = 0xffff

// CRC16Update folds data into crc using the reflected 0xA001 polynomial
// (the avr-libc crc16_update routine). Handles and the configuration blob
// checksum both use it.
func CRC16Update(crc uint16, data []byte) uint16 {
	for _, b := range data {
		crc ^= uint16(b)
		for range 8 {
			if crc&1 != 0 {
				crc = (crc >> 1) ^ 0xa001
			} else {
				crc >>= 1
			}
		}
	}
	return crc
}

// CRC16 returns the checksum of data starting from CRC16Init.
func CRC16(data []byte) uint16 {
	return CRC16Update(CRC16Init, data)
}

// CRC32Update folds data into a running sector checksum. The running value
// starts at SectorEmptyCRC, so a sector with no payload carries the empty
// sentinel as its checksum.
func CRC32Update(crc uint32, data []byte) uint32 {
	return crc32.Update(crc, crc32.IEEETable, data)
}
