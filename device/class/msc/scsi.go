package msc

import "encoding/binary"

// InquiryResponse is standard INQUIRY data.
type InquiryResponse struct {
	DeviceType uint8
	Removable  bool
	VendorID   [8]byte
	ProductID  [16]byte
	ProductRev [4]byte
}

// NewInquiryResponse builds INQUIRY data. Identification strings are
// space padded or truncated to their field widths.
func NewInquiryResponse(deviceType uint8, removable bool, vendor, product, revision string) InquiryResponse {
	r := InquiryResponse{DeviceType: deviceType, Removable: removable}
	pad(r.VendorID[:], vendor)
	pad(r.ProductID[:], product)
	pad(r.ProductRev[:], revision)
	return r
}

// MarshalTo writes the INQUIRY data to buf. Returns 0 if buf is too small.
func (r *InquiryResponse) MarshalTo(buf []byte) int {
	if len(buf) < InquiryStandardSize {
		return 0
	}
	clear(buf[:InquiryStandardSize])
	buf[0] = r.DeviceType
	if r.Removable {
		buf[1] = InquiryRMB
	}
	buf[2] = InquiryVersionSPC4
	buf[3] = InquiryResponseFormatSPC
	buf[4] = InquiryStandardSize - 5
	copy(buf[8:16], r.VendorID[:])
	copy(buf[16:32], r.ProductID[:])
	copy(buf[32:36], r.ProductRev[:])
	return InquiryStandardSize
}

// ReadCapacity10Response is READ CAPACITY (10) data.
type ReadCapacity10Response struct {
	LastLBA     uint32
	BlockLength uint32
}

// MarshalTo writes the response to buf. Returns 0 if buf is too small.
func (r *ReadCapacity10Response) MarshalTo(buf []byte) int {
	if len(buf) < 8 {
		return 0
	}
	binary.BigEndian.PutUint32(buf[0:4], r.LastLBA)
	binary.BigEndian.PutUint32(buf[4:8], r.BlockLength)
	return 8
}

// ReadCapacity16Response is READ CAPACITY (16) data.
type ReadCapacity16Response struct {
	LastLBA     uint64
	BlockLength uint32
}

// MarshalTo writes the response to buf. Returns 0 if buf is too small.
func (r *ReadCapacity16Response) MarshalTo(buf []byte) int {
	if len(buf) < 32 {
		return 0
	}
	clear(buf[:32])
	binary.BigEndian.PutUint64(buf[0:8], r.LastLBA)
	binary.BigEndian.PutUint32(buf[8:12], r.BlockLength)
	return 32
}

// Sense is the fixed-format sense data returned by REQUEST SENSE.
type Sense struct {
	Key  uint8
	ASC  uint8
	ASCQ uint8
}

// MarshalTo writes current fixed-format sense data to buf. Returns 0 if
// buf is too small.
func (s *Sense) MarshalTo(buf []byte) int {
	if len(buf) < RequestSenseSize {
		return 0
	}
	clear(buf[:RequestSenseSize])
	buf[0] = 0x70 // Current error, fixed format
	buf[2] = s.Key & 0x0F
	buf[7] = RequestSenseSize - 8
	buf[12] = s.ASC
	buf[13] = s.ASCQ
	return RequestSenseSize
}

// modeSense writes a header-only MODE SENSE response, 6- or 10-byte form.
func modeSense(buf []byte, long, writeProtected bool) int {
	var param uint8
	if writeProtected {
		param = 0x80
	}
	if long {
		clear(buf[:8])
		binary.BigEndian.PutUint16(buf[0:2], 6)
		buf[3] = param
		return 8
	}
	clear(buf[:4])
	buf[0] = 3
	buf[2] = param
	return 4
}

// formatCapacities writes a READ FORMAT CAPACITIES list with the current
// capacity descriptor.
func formatCapacities(buf []byte, blocks uint32, blockSize uint32) int {
	clear(buf[:12])
	buf[3] = 8
	binary.BigEndian.PutUint32(buf[4:8], blocks)
	buf[8] = 0x02 // Formatted media
	buf[9] = uint8(blockSize >> 16)
	buf[10] = uint8(blockSize >> 8)
	buf[11] = uint8(blockSize)
	return 12
}

// pad copies s into dst and fills the remainder with spaces.
func pad(dst []byte, s string) {
	n := copy(dst, s)
	for i := n; i < len(dst); i++ {
		dst[i] = ' '
	}
}
