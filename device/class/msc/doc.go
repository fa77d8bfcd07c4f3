// Package msc implements a USB Mass Storage function using the Bulk-Only
// Transport (BOT) with the SCSI transparent command set.
//
// Each command travels in three phases: the host sends a 31-byte Command
// Block Wrapper on the bulk OUT endpoint, data moves in one direction,
// and the device answers with a 13-byte Command Status Wrapper on bulk
// IN. The function runs commands from the endpoint interrupt, so a READ
// holds the interrupt context until the host has collected the data.
//
// # SCSI Commands
//
// TEST UNIT READY, REQUEST SENSE, INQUIRY, READ CAPACITY (10/16), READ
// FORMAT CAPACITIES, MODE SENSE (6/10), READ (10), WRITE (10), START STOP
// UNIT, SYNCHRONIZE CACHE (10), PREVENT ALLOW MEDIUM REMOVAL and VERIFY
// (10). Anything else fails with ILLEGAL REQUEST.
//
// # Storage
//
// Blocks come from a Storage: MemoryStorage for a RAM disk, FileStorage
// for a disk image, or any block device that moves one block per call.
//
// # Usage
//
//	disk := msc.New(msc.NewMemoryStorage(64*1024, msc.DefaultBlockSize), "fsusb", "RAM Disk")
//	dev, err := device.NewDeviceBuilder().
//	    WithStrings("fsusb", "Mass Storage", "0001").
//	    WithFunction(disk).
//	    Build()
//
// An invalid CBW stalls both endpoints until the host issues the
// Bulk-Only Mass Storage Reset class request. A command that moves less
// data than the host announced stalls the data pipe instead, and its CSW
// is sent once the host clears that halt.
package msc
