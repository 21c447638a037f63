// ABOUTME: Memory pinning stubs for platforms without mlock
// ABOUTME: Pin and Unpin succeed without doing anything

//go:build !(linux || darwin || freebsd || netbsd || openbsd)

package ring

// Pin is a no-op on platforms without mlock support.
func (b *Buffer) Pin() error {
	b.pinned = true
	return nil
}

// Unpin is a no-op on platforms without mlock support.
func (b *Buffer) Unpin() error {
	b.pinned = false
	return nil
}
