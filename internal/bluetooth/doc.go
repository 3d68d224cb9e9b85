// Package bluetooth implements govee.Transport over BlueZ using
// tinygo.org/x/bluetooth.
//
// A Transport owns one radio per adapter hint ("hci0", "hci1", ...; empty
// selects the system default). Each Connect opens a GATT connection,
// discovers the control characteristic and returns a link whose frames are
// written without response. Disconnect events reported by the adapter mark
// the matching link down so the owning session reconnects.
//
// The radio sits behind small interfaces so the link bookkeeping can be
// tested without hardware. The BlueZ implementation is Linux only; on other
// platforms Connect fails with ErrUnsupportedPlatform.
package bluetooth
