package msc_test

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ardnew/fsusb/device"
	"github.com/ardnew/fsusb/device/class/msc"
	"github.com/ardnew/fsusb/device/hal/sim"
	"github.com/ardnew/fsusb/pkg"
)

const (
	diskBlocks = 16
	ep         = 1
)

type fixture struct {
	t     *testing.T
	ctx   context.Context
	disk  *msc.MemoryStorage
	fn    *msc.MSC
	host  *sim.Host
	tag   uint32
	ops   []uint8
	state []uint8
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	disk := msc.NewMemoryStorage(diskBlocks*msc.DefaultBlockSize, msc.DefaultBlockSize)
	fn := msc.New(disk, "fsusb", "RAM Disk")

	dev, err := device.NewDeviceBuilder().WithFunction(fn).Build()
	require.NoError(t, err)

	ctrl := sim.NewController(sim.DefaultEndpoints)
	stack := device.NewStack(dev, ctrl)
	require.NoError(t, stack.Start())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = ctrl.Serve(ctx, stack.HandleInterrupt)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	f := &fixture{t: t, ctx: ctx, disk: disk, fn: fn, host: sim.NewHost(ctrl)}
	fn.SetOnCommand(func(opcode, status uint8) {
		f.ops = append(f.ops, opcode)
		f.state = append(f.state, status)
	})
	require.NoError(t, f.host.Reset(ctx))
	require.NoError(t, f.noData(device.SetAddressRequest(3)))
	require.NoError(t, f.noData(device.SetConfigurationRequest(device.ConfigurationValue)))
	require.Eventually(t, dev.IsConfigured, 2*time.Second, time.Millisecond)
	return f
}

func (f *fixture) noData(setup device.SetupPacket) error {
	return f.host.ControlNoData(f.ctx, setup.Bytes())
}

// command sends a CBW.
func (f *fixture) command(length uint32, in bool, cdb ...byte) uint32 {
	f.t.Helper()
	f.tag++
	cbw := msc.CommandBlockWrapper{
		Tag:                f.tag,
		DataTransferLength: length,
		CBLength:           uint8(len(cdb)),
	}
	if in {
		cbw.Flags = msc.CBWFlagDataIn
	}
	copy(cbw.CB[:], cdb)
	var buf [msc.CBWSize]byte
	cbw.MarshalTo(buf[:])
	require.NoError(f.t, f.host.Out(f.ctx, ep, buf[:]))
	return f.tag
}

// read collects n bytes of data-in phase.
func (f *fixture) read(n int) []byte {
	f.t.Helper()
	var data []byte
	for len(data) < n {
		pkt, err := f.host.In(f.ctx, ep)
		require.NoError(f.t, err)
		data = append(data, pkt...)
		if len(pkt) < msc.MaxPacketSize {
			break
		}
	}
	return data
}

// status reads a CSW and checks its tag.
func (f *fixture) status(tag uint32) msc.CommandStatusWrapper {
	f.t.Helper()
	pkt, err := f.host.In(f.ctx, ep)
	require.NoError(f.t, err)
	var csw msc.CommandStatusWrapper
	require.True(f.t, msc.ParseCSW(pkt, &csw), "not a CSW: % x", pkt)
	assert.Equal(f.t, tag, csw.Tag)
	return csw
}

func (f *fixture) clearHalt(addr uint16) {
	f.t.Helper()
	require.NoError(f.t, f.noData(device.FeatureRequest(false, device.RequestRecipientEndpoint, device.FeatureEndpointHalt, addr)))
}

// stalledStatus expects the data phase to end with a STALL on addr, clears
// the halt and reads the CSW that follows.
func (f *fixture) stalledStatus(tag uint32, addr uint16) msc.CommandStatusWrapper {
	f.t.Helper()
	if addr&device.EndpointDirectionIn != 0 {
		_, err := f.host.In(f.ctx, ep)
		require.ErrorIs(f.t, err, pkg.ErrStall)
	} else {
		require.ErrorIs(f.t, f.host.Out(f.ctx, ep, make([]byte, msc.MaxPacketSize)), pkg.ErrStall)
	}
	assert.Zero(f.t, f.host.Pending(ep), "CSW sent before the halt was cleared")
	f.clearHalt(addr)
	return f.status(tag)
}

func cdb10(op uint8, lba uint32, blocks uint16) []byte {
	b := make([]byte, 10)
	b[0] = op
	binary.BigEndian.PutUint32(b[2:], lba)
	binary.BigEndian.PutUint16(b[7:], blocks)
	return b
}

func TestNew_InterfaceInfo(t *testing.T) {
	fn := msc.New(msc.NewMemoryStorage(4096, 512), "v", "p")
	info := fn.InterfaceInfo()
	assert.Equal(t, uint8(msc.ClassMSC), info.Class)
	assert.Equal(t, uint8(msc.SubclassSCSI), info.SubClass)
	assert.Equal(t, uint8(msc.ProtocolBulkOnly), info.Protocol)
	assert.Equal(t, uint8(1), info.HardwareEndpoints())
	require.Len(t, info.Endpoints, 2)
	assert.True(t, info.Endpoints[0].DisableAutoZLP)
}

func TestNew_BadBlockSize(t *testing.T) {
	defer func() {
		var inv *pkg.InvariantError
		require.True(t, errors.As(recover().(error), &inv))
	}()
	msc.New(msc.NewMemoryStorage(1000, 100), "v", "p")
}

func TestParseCBW(t *testing.T) {
	good := msc.CommandBlockWrapper{Tag: 7, DataTransferLength: 36, Flags: msc.CBWFlagDataIn, CBLength: 6}
	var buf [msc.CBWSize]byte
	require.Equal(t, msc.CBWSize, good.MarshalTo(buf[:]))

	tests := []struct {
		name string
		data []byte
		ok   bool
	}{
		{"valid", buf[:], true},
		{"short", buf[:30], false},
		{"long", append(buf[:], 0), false},
		{"signature", append([]byte{0, 0, 0, 0}, buf[4:]...), false},
		{"cb length", func() []byte { b := buf; b[14] = 0; return b[:] }(), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var cbw msc.CommandBlockWrapper
			assert.Equal(t, tt.ok, msc.ParseCBW(tt.data, &cbw))
			if tt.ok {
				assert.Equal(t, uint32(7), cbw.Tag)
				assert.True(t, cbw.IsDataIn())
			}
		})
	}
}

func TestGetMaxLUN(t *testing.T) {
	f := newFixture(t)
	setup := device.SetupPacket{RequestType: 0xA1, Request: msc.RequestGetMaxLUN, Length: 1}
	data, err := f.host.ControlIn(f.ctx, setup.Bytes())
	require.NoError(t, err)
	assert.Equal(t, []byte{0}, data)

	f.fn.SetMaxLUN(2)
	data, err = f.host.ControlIn(f.ctx, setup.Bytes())
	require.NoError(t, err)
	assert.Equal(t, []byte{2}, data)
}

func TestInquiry(t *testing.T) {
	f := newFixture(t)
	tag := f.command(msc.InquiryStandardSize, true, msc.SCSIInquiry, 0, 0, 0, msc.InquiryStandardSize, 0)
	data := f.read(msc.InquiryStandardSize)
	require.Len(t, data, msc.InquiryStandardSize)
	assert.Equal(t, byte(msc.DeviceTypeDisk), data[0])
	assert.Equal(t, "fsusb   ", string(data[8:16]))
	assert.Equal(t, "RAM Disk        ", string(data[16:32]))

	csw := f.status(tag)
	assert.Equal(t, uint8(msc.CSWStatusGood), csw.Status)
	assert.Zero(t, csw.DataResidue)
}

func TestReadCapacity(t *testing.T) {
	f := newFixture(t)
	tag := f.command(8, true, msc.SCSIReadCapacity10, 0, 0, 0, 0, 0, 0, 0, 0, 0)
	data := f.read(8)
	assert.Equal(t, uint32(diskBlocks-1), binary.BigEndian.Uint32(data[0:4]))
	assert.Equal(t, uint32(msc.DefaultBlockSize), binary.BigEndian.Uint32(data[4:8]))
	assert.Equal(t, uint8(msc.CSWStatusGood), f.status(tag).Status)
}

func TestWriteThenRead(t *testing.T) {
	f := newFixture(t)

	payload := make([]byte, 2*msc.DefaultBlockSize)
	for i := range payload {
		payload[i] = byte(i * 7)
	}
	tag := f.command(uint32(len(payload)), false, cdb10(msc.SCSIWrite10, 3, 2)...)
	require.NoError(t, f.host.Out(f.ctx, ep, payload))
	csw := f.status(tag)
	assert.Equal(t, uint8(msc.CSWStatusGood), csw.Status)

	block := make([]byte, msc.DefaultBlockSize)
	require.NoError(t, f.disk.ReadBlock(4, block))
	assert.Equal(t, payload[msc.DefaultBlockSize:], block)

	tag = f.command(uint32(len(payload)), true, cdb10(msc.SCSIRead10, 3, 2)...)
	data := f.read(len(payload))
	assert.True(t, bytes.Equal(payload, data))
	assert.Equal(t, uint8(msc.CSWStatusGood), f.status(tag).Status)
	// Whole-packet blocks are sent without trailing ZLPs.
	assert.Zero(t, f.host.Pending(ep))

	assert.Equal(t, []uint8{msc.SCSIWrite10, msc.SCSIRead10}, f.ops)
}

func TestRead_OutOfRange(t *testing.T) {
	f := newFixture(t)
	tag := f.command(msc.DefaultBlockSize, true, cdb10(msc.SCSIRead10, diskBlocks, 1)...)
	csw := f.stalledStatus(tag, 0x81)
	assert.Equal(t, uint8(msc.CSWStatusFailed), csw.Status)
	assert.Equal(t, uint32(msc.DefaultBlockSize), csw.DataResidue)

	tag = f.command(msc.RequestSenseSize, true, msc.SCSIRequestSense, 0, 0, 0, msc.RequestSenseSize, 0)
	sense := f.read(msc.RequestSenseSize)
	assert.Equal(t, byte(msc.SenseIllegalRequest), sense[2])
	assert.Equal(t, byte(msc.ASCLBAOutOfRange), sense[12])
	assert.Equal(t, uint8(msc.CSWStatusGood), f.status(tag).Status)

	// Sense is cleared once reported.
	tag = f.command(msc.RequestSenseSize, true, msc.SCSIRequestSense, 0, 0, 0, msc.RequestSenseSize, 0)
	sense = f.read(msc.RequestSenseSize)
	assert.Zero(t, sense[2])
	f.status(tag)
}

func TestWrite_Protected(t *testing.T) {
	f := newFixture(t)
	f.disk.SetReadOnly(true)

	tag := f.command(msc.DefaultBlockSize, false, cdb10(msc.SCSIWrite10, 0, 1)...)
	csw := f.stalledStatus(tag, 0x01)
	assert.Equal(t, uint8(msc.CSWStatusFailed), csw.Status)
	assert.Equal(t, uint32(msc.DefaultBlockSize), csw.DataResidue)

	tag = f.command(4, true, msc.SCSIModeSense6, 0, 0x3F, 0, 4, 0)
	hdr := f.read(4)
	assert.Equal(t, byte(0x80), hdr[2])
	f.status(tag)
}

func TestTestUnitReady_NoMedium(t *testing.T) {
	f := newFixture(t)
	tag := f.command(0, false, msc.SCSITestUnitReady, 0, 0, 0, 0, 0)
	assert.Equal(t, uint8(msc.CSWStatusGood), f.status(tag).Status)

	f.disk.SetPresent(false)
	tag = f.command(0, false, msc.SCSITestUnitReady, 0, 0, 0, 0, 0)
	assert.Equal(t, uint8(msc.CSWStatusFailed), f.status(tag).Status)
}

func TestUnsupportedCommand(t *testing.T) {
	f := newFixture(t)
	tag := f.command(0, false, 0xFF, 0, 0, 0, 0, 0)
	assert.Equal(t, uint8(msc.CSWStatusFailed), f.status(tag).Status)

	tag = f.command(8, true, 0xFF, 0, 0, 0, 8, 0)
	csw := f.stalledStatus(tag, 0x81)
	assert.Equal(t, uint8(msc.CSWStatusFailed), csw.Status)
	assert.Equal(t, uint32(8), csw.DataResidue)
}

func TestReadCapacity_NoMedium(t *testing.T) {
	f := newFixture(t)
	f.disk.SetPresent(false)

	tag := f.command(8, true, msc.SCSIReadCapacity10, 0, 0, 0, 0, 0, 0, 0, 0, 0)
	csw := f.stalledStatus(tag, 0x81)
	assert.Equal(t, uint8(msc.CSWStatusFailed), csw.Status)
	assert.Equal(t, uint32(8), csw.DataResidue)

	tag = f.command(msc.RequestSenseSize, true, msc.SCSIRequestSense, 0, 0, 0, msc.RequestSenseSize, 0)
	sense := f.read(msc.RequestSenseSize)
	assert.Equal(t, byte(msc.SenseNotReady), sense[2])
	assert.Equal(t, byte(msc.ASCMediumNotPresent), sense[12])
	f.status(tag)
}

func TestInquiry_ShortResponse(t *testing.T) {
	f := newFixture(t)
	// A short packet ends the data phase, so no STALL is needed.
	tag := f.command(64, true, msc.SCSIInquiry, 0, 0, 0, msc.InquiryStandardSize, 0)
	require.Len(t, f.read(64), msc.InquiryStandardSize)
	csw := f.status(tag)
	assert.Equal(t, uint8(msc.CSWStatusGood), csw.Status)
	assert.Equal(t, uint32(64-msc.InquiryStandardSize), csw.DataResidue)
}

func TestRead_HostExpectsMore(t *testing.T) {
	f := newFixture(t)
	tag := f.command(2*msc.DefaultBlockSize, true, cdb10(msc.SCSIRead10, 0, 1)...)
	require.Len(t, f.read(msc.DefaultBlockSize), msc.DefaultBlockSize)

	csw := f.stalledStatus(tag, 0x81)
	assert.Equal(t, uint8(msc.CSWStatusGood), csw.Status)
	assert.Equal(t, uint32(msc.DefaultBlockSize), csw.DataResidue)
}

func TestPhaseError(t *testing.T) {
	tests := []struct {
		name   string
		length uint32
		in     bool
		cdb    []byte
		halted uint16
	}{
		{"inquiry as data-out", msc.InquiryStandardSize, false,
			[]byte{msc.SCSIInquiry, 0, 0, 0, msc.InquiryStandardSize, 0}, 0x01},
		{"write as data-in", msc.DefaultBlockSize, true,
			cdb10(msc.SCSIWrite10, 0, 1), 0x81},
		{"read shorter than blocks", msc.DefaultBlockSize, true,
			cdb10(msc.SCSIRead10, 0, 2), 0x81},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			tag := f.command(tt.length, tt.in, tt.cdb...)
			assert.Equal(t, uint8(msc.CSWStatusPhaseError), f.stalledStatus(tag, tt.halted).Status)

			// The transport is usable again.
			tag = f.command(0, false, msc.SCSITestUnitReady, 0, 0, 0, 0, 0)
			assert.Equal(t, uint8(msc.CSWStatusGood), f.status(tag).Status)
		})
	}
}

func TestInvalidCBW_ResetRecovery(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.host.Out(f.ctx, ep, []byte("garbage")))

	_, err := f.host.In(f.ctx, ep)
	require.ErrorIs(t, err, pkg.ErrStall)

	// Clearing the halt alone does not end the error state.
	f.clearHalt(0x81)
	_, err = f.host.In(f.ctx, ep)
	require.ErrorIs(t, err, pkg.ErrStall)

	reset := device.SetupPacket{RequestType: 0x21, Request: msc.RequestBulkOnlyMassStorageReset}
	require.NoError(t, f.noData(reset))
	f.clearHalt(0x81)
	f.clearHalt(0x01)

	tag := f.command(0, false, msc.SCSITestUnitReady, 0, 0, 0, 0, 0)
	assert.Equal(t, uint8(msc.CSWStatusGood), f.status(tag).Status)
}

func TestMemoryStorage(t *testing.T) {
	s := msc.NewMemoryStorage(1000, 512)
	assert.Equal(t, uint64(1), s.BlockCount())

	buf := make([]byte, 512)
	assert.Error(t, s.ReadBlock(1, buf))
	assert.Error(t, s.ReadBlock(0, buf[:10]))
	assert.ErrorIs(t, s.Eject(), pkg.ErrNotSupported)

	s.SetRemovable(true)
	require.NoError(t, s.Eject())
	assert.False(t, s.IsPresent())
}

func TestFileStorage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "disk.img")
	require.NoError(t, os.WriteFile(path, make([]byte, 2*512+100), 0o600))

	s, err := msc.NewFileStorage(path, 512, false)
	require.NoError(t, err)
	defer s.Close()
	assert.Equal(t, uint64(2), s.BlockCount())

	block := bytes.Repeat([]byte{0x5A}, 512)
	require.NoError(t, s.WriteBlock(1, block))
	require.NoError(t, s.Sync())

	buf := make([]byte, 512)
	require.NoError(t, s.ReadBlock(1, buf))
	assert.Equal(t, block, buf)
	assert.Error(t, s.ReadBlock(2, buf))

	ro, err := msc.NewFileStorage(path, 512, true)
	require.NoError(t, err)
	defer ro.Close()
	assert.True(t, ro.IsReadOnly())
	assert.ErrorIs(t, ro.WriteBlock(0, block), os.ErrPermission)

	_, err = msc.NewFileStorage(filepath.Join(t.TempDir(), "missing.img"), 512, true)
	assert.Error(t, err)
}
