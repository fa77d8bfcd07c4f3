package msc

import (
	"io"
	"os"
	"sync"

	"github.com/ardnew/fsusb/pkg"
)

// Storage is a block device behind the function. Calls come from the
// interrupt context one block at a time and must not block for long.
type Storage interface {
	// BlockSize returns the logical block size in bytes.
	BlockSize() uint32

	// BlockCount returns the number of logical blocks.
	BlockCount() uint64

	// ReadBlock fills buf, one block long, from block lba.
	ReadBlock(lba uint64, buf []byte) error

	// WriteBlock stores buf, one block long, at block lba.
	WriteBlock(lba uint64, buf []byte) error

	// Sync flushes cached writes.
	Sync() error

	IsReadOnly() bool
	IsRemovable() bool

	// IsPresent reports whether a medium is loaded.
	IsPresent() bool

	// Eject unloads a removable medium.
	Eject() error
}

// MemoryStorage is a RAM disk.
type MemoryStorage struct {
	data      []byte
	blockSize uint32
	readOnly  bool
	removable bool
	present   bool
	mutex     sync.RWMutex
}

// NewMemoryStorage creates a RAM disk of size bytes, rounded down to whole
// blocks.
func NewMemoryStorage(size uint64, blockSize uint32) *MemoryStorage {
	size -= size % uint64(blockSize)
	return &MemoryStorage{
		data:      make([]byte, size),
		blockSize: blockSize,
		present:   true,
	}
}

// BlockSize implements Storage.
func (m *MemoryStorage) BlockSize() uint32 { return m.blockSize }

// BlockCount implements Storage.
func (m *MemoryStorage) BlockCount() uint64 {
	return uint64(len(m.data)) / uint64(m.blockSize)
}

func (m *MemoryStorage) span(lba uint64, buf []byte) (int, error) {
	if len(buf) != int(m.blockSize) {
		return 0, io.ErrShortBuffer
	}
	if lba >= m.BlockCount() {
		return 0, io.EOF
	}
	return int(lba * uint64(m.blockSize)), nil
}

// ReadBlock implements Storage.
func (m *MemoryStorage) ReadBlock(lba uint64, buf []byte) error {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	off, err := m.span(lba, buf)
	if err != nil {
		return err
	}
	copy(buf, m.data[off:])
	return nil
}

// WriteBlock implements Storage.
func (m *MemoryStorage) WriteBlock(lba uint64, buf []byte) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if m.readOnly {
		return os.ErrPermission
	}
	off, err := m.span(lba, buf)
	if err != nil {
		return err
	}
	copy(m.data[off:], buf)
	return nil
}

// Sync implements Storage.
func (m *MemoryStorage) Sync() error { return nil }

// IsReadOnly implements Storage.
func (m *MemoryStorage) IsReadOnly() bool {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return m.readOnly
}

// SetReadOnly toggles write protection.
func (m *MemoryStorage) SetReadOnly(readOnly bool) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.readOnly = readOnly
}

// IsRemovable implements Storage.
func (m *MemoryStorage) IsRemovable() bool {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return m.removable
}

// SetRemovable marks the medium removable.
func (m *MemoryStorage) SetRemovable(removable bool) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.removable = removable
}

// IsPresent implements Storage.
func (m *MemoryStorage) IsPresent() bool {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return m.present
}

// SetPresent loads or unloads the medium.
func (m *MemoryStorage) SetPresent(present bool) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.present = present
}

// Eject implements Storage. Only removable media can be ejected.
func (m *MemoryStorage) Eject() error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if !m.removable {
		return pkg.ErrNotSupported
	}
	m.present = false
	return nil
}

// FileStorage is a disk image file.
type FileStorage struct {
	file      *os.File
	blockSize uint32
	blocks    uint64
	readOnly  bool
	mutex     sync.Mutex
}

// NewFileStorage opens a disk image. A trailing partial block is ignored.
func NewFileStorage(path string, blockSize uint32, readOnly bool) (*FileStorage, error) {
	flags := os.O_RDWR
	if readOnly {
		flags = os.O_RDONLY
	}
	file, err := os.OpenFile(path, flags, 0)
	if err != nil {
		return nil, err
	}
	stat, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, err
	}
	return &FileStorage{
		file:      file,
		blockSize: blockSize,
		blocks:    uint64(stat.Size()) / uint64(blockSize),
		readOnly:  readOnly,
	}, nil
}

// BlockSize implements Storage.
func (f *FileStorage) BlockSize() uint32 { return f.blockSize }

// BlockCount implements Storage.
func (f *FileStorage) BlockCount() uint64 { return f.blocks }

func (f *FileStorage) offset(lba uint64, buf []byte) (int64, error) {
	if len(buf) != int(f.blockSize) {
		return 0, io.ErrShortBuffer
	}
	if lba >= f.blocks {
		return 0, io.EOF
	}
	return int64(lba * uint64(f.blockSize)), nil
}

// ReadBlock implements Storage.
func (f *FileStorage) ReadBlock(lba uint64, buf []byte) error {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	off, err := f.offset(lba, buf)
	if err != nil {
		return err
	}
	_, err = f.file.ReadAt(buf, off)
	return err
}

// WriteBlock implements Storage.
func (f *FileStorage) WriteBlock(lba uint64, buf []byte) error {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	if f.readOnly {
		return os.ErrPermission
	}
	off, err := f.offset(lba, buf)
	if err != nil {
		return err
	}
	_, err = f.file.WriteAt(buf, off)
	return err
}

// Sync implements Storage.
func (f *FileStorage) Sync() error {
	if f.readOnly {
		return nil
	}
	return f.file.Sync()
}

// IsReadOnly implements Storage.
func (f *FileStorage) IsReadOnly() bool { return f.readOnly }

// IsRemovable implements Storage.
func (f *FileStorage) IsRemovable() bool { return false }

// IsPresent implements Storage.
func (f *FileStorage) IsPresent() bool { return true }

// Eject implements Storage.
func (f *FileStorage) Eject() error { return pkg.ErrNotSupported }

// Close closes the image file.
func (f *FileStorage) Close() error {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	return f.file.Close()
}
