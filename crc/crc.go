package crc

// Sensirion humidity sensors checksum every 16-bit word on the wire
// with CRC-8, polynomial 0x31, initial value 0xff.
const CRC_POLY_31 byte = 0x31

func CRC8_p31(crc, data byte) byte {
	crc ^= data
	var i byte = 0
	for ; i < 8; i++ {
		if (crc & 0x80) != 0 {
			crc <<= 1
			crc ^= CRC_POLY_31
		} else {
			crc <<= 1
		}
	}
	return crc
}

func CRC8_p31_2b(b1, b2 byte) byte {
	out := CRC8_p31(0xff, b1)
	out = CRC8_p31(out, b2)
	return out
}
