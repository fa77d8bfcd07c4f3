// Package usbid looks up vendor, product and class names in the usb.ids
// database distributed with usbutils and hwdata.
//
// # Usage
//
//	db := usbid.New()
//	if err := db.Open(usbid.DefaultPaths...); err != nil {
//	    // names stay empty
//	}
//	vendor := db.Vendor(0x0B6A)
//	class := db.Class(0x03, 0x01, 0x01) // "Human Interface Device / Boot Interface Subclass / Keyboard"
//
// Lookups on an empty database return empty strings. All methods are safe
// for concurrent use.
package usbid
