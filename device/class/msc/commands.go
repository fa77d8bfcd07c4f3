package msc

import "github.com/ardnew/fsusb/pkg"

// execute runs the current CBW's command and returns the CSW status and
// residue. WRITE (10) instead switches to the data-out phase.
func (m *MSC) execute() (status uint8, residue uint32) {
	cbw := &m.cbw
	if cbw.LUN > m.maxLUN {
		return m.fail(SenseIllegalRequest, ASCInvalidFieldInCDB)
	}

	switch cbw.CB[0] {
	case SCSITestUnitReady:
		if !m.storage.IsPresent() {
			return m.fail(SenseNotReady, ASCMediumNotPresent)
		}
		return m.noData()

	case SCSIRequestSense:
		n := m.sense.MarshalTo(m.resp[:])
		if alloc := int(cbw.CB[4]); alloc < n {
			n = alloc
		}
		m.sense = Sense{}
		return m.dataIn(m.resp[:n])

	case SCSIInquiry:
		n := m.inquiry.MarshalTo(m.resp[:])
		if alloc := int(be16(cbw.CB[3:5])); alloc < n {
			n = alloc
		}
		return m.dataIn(m.resp[:n])

	case SCSIReadCapacity10:
		if !m.storage.IsPresent() {
			return m.fail(SenseNotReady, ASCMediumNotPresent)
		}
		last := m.storage.BlockCount() - 1
		if last > 0xFFFFFFFF {
			last = 0xFFFFFFFF
		}
		resp := ReadCapacity10Response{LastLBA: uint32(last), BlockLength: m.storage.BlockSize()}
		return m.dataIn(m.resp[:resp.MarshalTo(m.resp[:])])

	case SCSIServiceActionIn16:
		if cbw.CB[1]&0x1F != ServiceActionReadCapacity16 {
			return m.fail(SenseIllegalRequest, ASCInvalidCommand)
		}
		if !m.storage.IsPresent() {
			return m.fail(SenseNotReady, ASCMediumNotPresent)
		}
		resp := ReadCapacity16Response{LastLBA: m.storage.BlockCount() - 1, BlockLength: m.storage.BlockSize()}
		n := resp.MarshalTo(m.resp[:])
		if alloc := int(be32(cbw.CB[10:14])); alloc < n {
			n = alloc
		}
		return m.dataIn(m.resp[:n])

	case SCSIReadFormatCapacities:
		if !m.storage.IsPresent() {
			return m.fail(SenseNotReady, ASCMediumNotPresent)
		}
		blocks := m.storage.BlockCount()
		if blocks > 0xFFFFFFFF {
			blocks = 0xFFFFFFFF
		}
		n := formatCapacities(m.resp[:], uint32(blocks), m.storage.BlockSize())
		if alloc := int(be16(cbw.CB[7:9])); alloc < n {
			n = alloc
		}
		return m.dataIn(m.resp[:n])

	case SCSIModeSense6, SCSIModeSense10:
		long := cbw.CB[0] == SCSIModeSense10
		n := modeSense(m.resp[:], long, m.storage.IsReadOnly())
		alloc := int(cbw.CB[4])
		if long {
			alloc = int(be16(cbw.CB[7:9]))
		}
		if alloc < n {
			n = alloc
		}
		return m.dataIn(m.resp[:n])

	case SCSIRead10:
		return m.read10()

	case SCSIWrite10:
		return m.write10()

	case SCSIStartStopUnit:
		start, loej := cbw.CB[4]&0x01 != 0, cbw.CB[4]&0x02 != 0
		if loej && !start && m.storage.IsRemovable() {
			if err := m.storage.Eject(); err != nil {
				return m.fail(SenseIllegalRequest, ASCInvalidFieldInCDB)
			}
		}
		return m.noData()

	case SCSISynchronizeCache10:
		if err := m.storage.Sync(); err != nil {
			return m.fail(SenseHardwareError, ASCNoAdditionalInfo)
		}
		return m.noData()

	case SCSIPreventAllowRemoval, SCSIVerify10:
		return m.noData()
	}

	pkg.LogDebug(pkg.ComponentMSC, "unsupported SCSI command", "opcode", cbw.CB[0])
	return m.fail(SenseIllegalRequest, ASCInvalidCommand)
}

// fail records sense data for a failed command.
func (m *MSC) fail(key, asc uint8) (uint8, uint32) {
	m.sense = Sense{Key: key, ASC: asc}
	return CSWStatusFailed, m.cbw.DataTransferLength
}

func (m *MSC) noData() (uint8, uint32) {
	m.sense = Sense{}
	return CSWStatusGood, m.cbw.DataTransferLength
}

// dataIn sends a response no longer than the host asked for. A host that
// announced a data-out phase gets a phase error instead. An empty
// response sends nothing; the stalled pipe ends the data phase.
func (m *MSC) dataIn(data []byte) (uint8, uint32) {
	want := m.cbw.DataTransferLength
	if want == 0 {
		return CSWStatusGood, 0
	}
	if !m.cbw.IsDataIn() {
		return CSWStatusPhaseError, want
	}
	if uint32(len(data)) > want {
		data = data[:want]
	}
	if len(data) > 0 {
		if _, err := m.in.Write(data); err != nil {
			return m.fail(SenseHardwareError, ASCNoAdditionalInfo)
		}
		m.sent += uint32(len(data))
	}
	return CSWStatusGood, want - uint32(len(data))
}

// blockRange decodes the LBA and transfer length of a 10-byte CDB and
// checks them against the medium.
func (m *MSC) blockRange() (lba uint64, blocks uint32, bytes uint32, ok bool) {
	lba = uint64(be32(m.cbw.CB[2:6]))
	blocks = uint32(be16(m.cbw.CB[7:9]))
	if lba+uint64(blocks) > m.storage.BlockCount() {
		return 0, 0, 0, false
	}
	return lba, blocks, blocks * m.storage.BlockSize(), true
}

func (m *MSC) read10() (uint8, uint32) {
	if !m.storage.IsPresent() {
		return m.fail(SenseNotReady, ASCMediumNotPresent)
	}
	lba, blocks, total, ok := m.blockRange()
	if !ok {
		return m.fail(SenseIllegalRequest, ASCLBAOutOfRange)
	}
	if blocks == 0 {
		return m.noData()
	}
	if !m.cbw.IsDataIn() || m.cbw.DataTransferLength < total {
		return CSWStatusPhaseError, m.cbw.DataTransferLength
	}

	failed := false
	for i := uint32(0); i < blocks; i++ {
		if err := m.storage.ReadBlock(lba+uint64(i), m.block); err != nil {
			pkg.LogWarn(pkg.ComponentMSC, "read failed", "lba", lba+uint64(i), "error", err)
			// The host still expects the whole data phase.
			clear(m.block)
			failed = true
		}
		if _, err := m.in.Write(m.block); err != nil {
			return m.fail(SenseHardwareError, ASCNoAdditionalInfo)
		}
		m.sent += uint32(len(m.block))
	}
	if failed {
		m.sense = Sense{Key: SenseMediumError}
		return CSWStatusFailed, m.cbw.DataTransferLength - total
	}
	m.sense = Sense{}
	return CSWStatusGood, m.cbw.DataTransferLength - total
}

func (m *MSC) write10() (uint8, uint32) {
	if !m.storage.IsPresent() {
		return m.fail(SenseNotReady, ASCMediumNotPresent)
	}
	if m.storage.IsReadOnly() {
		return m.fail(SenseDataProtect, ASCWriteProtected)
	}
	lba, blocks, total, ok := m.blockRange()
	if !ok {
		return m.fail(SenseIllegalRequest, ASCLBAOutOfRange)
	}
	if blocks == 0 {
		return m.noData()
	}
	if m.cbw.IsDataIn() || m.cbw.DataTransferLength != total {
		return CSWStatusPhaseError, m.cbw.DataTransferLength
	}

	m.lba = lba
	m.pending = total
	m.filled = 0
	m.failed = false
	m.sense = Sense{}
	m.phase = phaseDataOut
	return CSWStatusGood, 0
}
