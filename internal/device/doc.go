// Package device defines the platform-neutral contracts of the provisioning
// engine: advertisements, GATT client links, the host radio platform and its
// optional primitives, plus the error taxonomy and UUID rules shared by every
// other package.
//
// Backends (see internal/device/go-ble) implement Platform and Client; the
// rest of the engine only depends on these interfaces, which lets tests swap
// in the fakes from internal/testutils.
package device
