package usbid

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"sync"
)

// DefaultPaths lists the standard locations for the USB ID database.
var DefaultPaths = []string{
	"/usr/share/hwdata/usb.ids",
	"/var/lib/usbutils/usb.ids",
	"/usr/share/misc/usb.ids",
}

// ErrNotFound indicates none of the candidate paths exists.
var ErrNotFound = errors.New("usb.ids not found")

// Database caches names from the USB ID database.
type Database struct {
	vendors  map[uint16]string // VID -> vendor name
	products map[uint32]string // VID<<16 | PID -> product name
	classes  map[uint32]string // see classKey
	source   string
	mu       sync.RWMutex
}

// New creates an empty database.
func New() *Database {
	return &Database{
		vendors:  make(map[uint16]string),
		products: make(map[uint32]string),
		classes:  make(map[uint32]string),
	}
}

// Open parses the first path that exists. It returns ErrNotFound when
// none does.
func (db *Database) Open(paths ...string) error {
	for _, path := range paths {
		f, err := os.Open(path)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return err
		}
		defer f.Close()
		if err := db.Parse(f); err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		db.mu.Lock()
		db.source = path
		db.mu.Unlock()
		return nil
	}
	return ErrNotFound
}

// Source returns the path the database was opened from.
func (db *Database) Source() string {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.source
}

// section is the part of the file a line belongs to.
type section int

const (
	sectionNone section = iota
	sectionVendor
	sectionClass
)

// Parse reads entries in usb.ids format from r and adds them to the
// database. Sections other than vendors and device classes are skipped.
func (db *Database) Parse(r io.Reader) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	var (
		sec      section
		vid      uint16
		class    uint8
		subclass uint8
		haveSub  bool
	)

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		if len(line) == 0 || line[0] == '#' {
			continue
		}

		depth := len(line) - len(strings.TrimLeft(line, "\t"))
		line = line[depth:]

		if depth == 0 {
			sec = sectionNone
			if rest, ok := strings.CutPrefix(line, "C "); ok {
				if id, name, ok := field(rest, 8); ok {
					sec, class, haveSub = sectionClass, uint8(id), false
					db.classes[classKey(class, 0, 0, 1)] = name
				}
				continue
			}
			if id, name, ok := field(line, 16); ok {
				sec, vid = sectionVendor, uint16(id)
				db.vendors[vid] = name
			}
			continue
		}

		switch {
		case sec == sectionVendor && depth == 1:
			if id, name, ok := field(line, 16); ok {
				db.products[uint32(vid)<<16|uint32(id)] = name
			}
		case sec == sectionClass && depth == 1:
			if id, name, ok := field(line, 8); ok {
				subclass, haveSub = uint8(id), true
				db.classes[classKey(class, subclass, 0, 2)] = name
			}
		case sec == sectionClass && depth == 2 && haveSub:
			if id, name, ok := field(line, 8); ok {
				db.classes[classKey(class, subclass, uint8(id), 3)] = name
			}
		}
	}
	return scanner.Err()
}

// field splits "xxxx  Name" into its hex ID and name.
func field(line string, bits int) (uint64, string, bool) {
	idStr, name, ok := strings.Cut(line, " ")
	if !ok {
		return 0, "", false
	}
	id, err := strconv.ParseUint(idStr, 16, bits)
	if err != nil {
		return 0, "", false
	}
	return id, strings.TrimSpace(name), true
}

// classKey packs a class triple and how many of its parts are set.
func classKey(class, subclass, protocol, parts uint8) uint32 {
	return uint32(parts)<<24 | uint32(class)<<16 | uint32(subclass)<<8 | uint32(protocol)
}

// Vendor returns the vendor name for vid, or "".
func (db *Database) Vendor(vid uint16) string {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.vendors[vid]
}

// Product returns the product name for vid and pid, or "".
func (db *Database) Product(vid, pid uint16) string {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.products[uint32(vid)<<16|uint32(pid)]
}

// Class returns the known names of a class triple joined with " / ",
// from the class down to the protocol, or "" when the class is unknown.
func (db *Database) Class(class, subclass, protocol uint8) string {
	db.mu.RLock()
	defer db.mu.RUnlock()

	name, ok := db.classes[classKey(class, 0, 0, 1)]
	if !ok {
		return ""
	}
	if sub, ok := db.classes[classKey(class, subclass, 0, 2)]; ok {
		name += " / " + sub
		if proto, ok := db.classes[classKey(class, subclass, protocol, 3)]; ok {
			name += " / " + proto
		}
	}
	return name
}

// Len returns the number of vendors, products and class entries.
func (db *Database) Len() (vendors, products, classes int) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return len(db.vendors), len(db.products), len(db.classes)
}
