// ABOUTME: Version constants
// ABOUTME: Product identification advertised in the protocol handshake
package version

const (
	// Product is the product name.
	Product = "shairport-sync-go"

	// Manufacturer identifies the project.
	Manufacturer = "wtangxyz"

	// Version is the current software version.
	Version = "0.1.0"
)
