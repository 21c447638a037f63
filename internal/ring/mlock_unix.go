// ABOUTME: Memory pinning for the ring buffer on unix platforms
// ABOUTME: Locks the backing array so the realtime consumer never page-faults

//go:build linux || darwin || freebsd || netbsd || openbsd

package ring

import "golang.org/x/sys/unix"

// Pin locks the backing array into physical memory so the realtime consumer
// cannot take a page fault while draining. Failure (typically an
// RLIMIT_MEMLOCK limit) leaves the buffer usable but unpinned.
func (b *Buffer) Pin() error {
	if b.pinned {
		return nil
	}
	if err := unix.Mlock(b.data); err != nil {
		return err
	}
	b.pinned = true
	return nil
}

// Unpin releases the memory lock taken by Pin.
func (b *Buffer) Unpin() error {
	if !b.pinned {
		return nil
	}
	b.pinned = false
	return unix.Munlock(b.data)
}
