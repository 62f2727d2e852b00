package checksum

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

var check = []byte("123456789")

func TestCrc8(t *testing.T) {
	assert.Equal(t, byte(0xF4), Crc8(check, 0x07, 0x00))
	assert.Equal(t, byte(0xA2), Crc8(check, 0x31, 0x00))
	assert.Equal(t, byte(0x00), Crc8(nil, 0x31, 0x00))
}

func TestCrc8le(t *testing.T) {
	// CRC-8/MAXIM
	assert.Equal(t, byte(0xA1), Crc8le(check, 0x31, 0x00))
}

func TestCrc8AppendedZeroes(t *testing.T) {
	// appending the CRC to the message drives the remainder to zero
	msg := []byte{0xDE, 0xAD, 0xBE, 0xEF}
	c := Crc8(msg, 0x31, 0x00)
	assert.Equal(t, byte(0), Crc8(append(msg, c), 0x31, 0x00))
	cl := Crc8le(msg, 0x31, 0x00)
	assert.Equal(t, byte(0), Crc8le(append(msg, cl), 0x31, 0x00))
}

func TestCrc16(t *testing.T) {
	// XMODEM and BUYPASS
	assert.Equal(t, uint16(0x31C3), Crc16(check, 0x1021, 0x0000))
	assert.Equal(t, uint16(0xFEE8), Crc16(check, 0x8005, 0x0000))
}

func TestCrc16lsb(t *testing.T) {
	// KERMIT, poly passed reflected
	assert.Equal(t, uint16(0x2189), Crc16lsb(check, 0x8408, 0x0000))
}

func TestCrc4(t *testing.T) {
	assert.Equal(t, byte(0xA), Crc4([]byte{0xDE, 0xAD, 0xBE, 0xEF}, 0x3, 0x0))
}

func TestLfsrDigest8(t *testing.T) {
	data := []byte{0x01, 0x02, 0x03, 0x04}
	assert.Equal(t, byte(0x2F), LfsrDigest8(data, 0x31, 0xF4))
	assert.Equal(t, byte(0x9D), LfsrDigest8Reflect(data, 0x31, 0xF4))
	// the digest byte of a LaCrosse TX141 frame
	assert.Equal(t, byte(0x66), LfsrDigest8Reflect([]byte{0x2B, 0x02, 0xCB, 0x3A}, 0x31, 0xF4))
}

func TestSumsAndXor(t *testing.T) {
	data := []byte{0x12, 0x34, 0xFF}
	assert.Equal(t, byte(0x45), AddBytes(data))
	assert.Equal(t, byte(1+2+3+4+15+15), AddNibbles(data))
	assert.Equal(t, byte(0x12^0x34^0xFF), XorBytes(data))
	assert.Equal(t, byte(0), AddBytes(nil))
}

func TestReverse(t *testing.T) {
	assert.Equal(t, byte(0x80), Reverse8(0x01))
	assert.Equal(t, byte(0xB4), Reverse8(0x2D))
	assert.Equal(t, uint32(0x80000000), Reverse32(0x00000001))
	assert.Equal(t, uint32(0xD41D8C00), Reverse32(0x0031B82B))

	buf := []byte{0x01, 0x2D}
	ReflectBytes(buf)
	assert.Equal(t, []byte{0x80, 0xB4}, buf)

	nib := []byte{0xA5, 0x3C}
	ReflectNibbles(nib)
	assert.Equal(t, []byte{0x5A, 0xC3}, nib)
}

func TestParity(t *testing.T) {
	assert.Equal(t, byte(0), Parity8(0x00))
	assert.Equal(t, byte(1), Parity8(0x01))
	assert.Equal(t, byte(1), Parity8(0xFE))
	assert.Equal(t, byte(0), Parity8(0xFF))
	assert.Equal(t, byte(0), ParityBytes([]byte{0x0F, 0x0F}))
	assert.Equal(t, byte(1), ParityBytes([]byte{0x0F, 0x07}))
}
