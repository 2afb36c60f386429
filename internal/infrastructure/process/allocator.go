package process

import (
	"fmt"
	"hash/fnv"
	"net"
	"sync"

	"mirrorctl/internal/core/domain"
	"mirrorctl/internal/core/ports"
)

// HashAllocator maps a device id into a fixed pool of ports offset from a
// base port. Allocation is a pure hash: the same device always gets the same
// port, no state is kept, and two devices can collide. This mirrors the
// historical allocation scheme and is the compatibility default.
type HashAllocator struct {
	basePort int
	poolSize int
}

func NewHashAllocator(basePort, poolSize int) ports.PortAllocator {
	return &HashAllocator{basePort: basePort, poolSize: poolSize}
}

func (a *HashAllocator) Allocate(deviceID domain.DeviceID) (int, error) {
	h := fnv.New32a()
	h.Write([]byte(deviceID))
	return a.basePort + int(h.Sum32())%a.poolSize, nil
}

func (a *HashAllocator) Release(port int) {}

// BindAllocator reserves a port by actually binding it, walking the pool
// from the base port and reusing released ports. The probe listener is
// closed right away; the small window until the process binds is accepted.
type BindAllocator struct {
	basePort int
	poolSize int
	inUse    map[int]bool
	mu       sync.Mutex
}

func NewBindAllocator(basePort, poolSize int) ports.PortAllocator {
	return &BindAllocator{
		basePort: basePort,
		poolSize: poolSize,
		inUse:    make(map[int]bool),
	}
}

func (a *BindAllocator) Allocate(deviceID domain.DeviceID) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for i := 0; i < a.poolSize; i++ {
		port := a.basePort + i
		if a.inUse[port] {
			continue
		}
		ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
		if err != nil {
			continue
		}
		ln.Close()
		a.inUse[port] = true
		return port, nil
	}

	return 0, domain.ErrPortPoolExhausted
}

func (a *BindAllocator) Release(port int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.inUse, port)
}
