package arena

// allocatePages supplies a buffer's backing storage. In the originating
// system this is process-heap/virtual-memory territory (mmap'd, page
// aligned, guard-paged) and treated as an external primitive; this
// repository's core only needs a contiguous, zeroed byte range, so a plain
// make() stands in here. Swapping in a real page-aligned allocator (mmap
// via golang.org/x/sys/unix, as the rest of the pack does for device I/O
// buffers) only requires changing this one function.
func allocatePages(size int) []byte {
	return make([]byte, size)
}
