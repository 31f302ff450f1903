package redisclusterutil

// crc16tab is a table for CRC16-CCITT (XMODEM) with polynomial 0x1021,
// which is the checksum redis cluster uses for key hashing.
var crc16tab = func() (tab [256]uint16) {
	for i := range tab {
		crc := uint16(i) << 8
		for j := 0; j < 8; j++ {
			if crc&0x8000 != 0 {
				crc = crc<<1 ^ 0x1021
			} else {
				crc <<= 1
			}
		}
		tab[i] = crc
	}
	return tab
}()

// CRC16 returns checksum for a given set of bytes based on the crc algorithm
// defined for hashing redis keys in a cluster setup.
func CRC16(buf []byte) uint16 {
	crc := uint16(0)
	for _, b := range buf {
		crc = crc<<8 ^ crc16tab[byte(crc>>8)^b]
	}
	return crc
}

// crc16s is CRC16 for string without allocation.
func crc16s(s string) uint16 {
	crc := uint16(0)
	for i := 0; i < len(s); i++ {
		crc = crc<<8 ^ crc16tab[byte(crc>>8)^s[i]]
	}
	return crc
}
