package probe

// Memory reads and writes code in the address space being patched.
type Memory interface {
	Read(addr uint64, n int) ([]byte, error)
	Write(addr uint64, data []byte) error
}

// Allocator hands out executable memory within rel32 reach of an address.
type Allocator interface {
	Alloc(near uint64, size int) (uint64, error)
}
