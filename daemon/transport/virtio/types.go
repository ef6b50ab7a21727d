// Package virtio implements the per-VM metrics channel server: an
// epoll-driven single-threaded reactor that discovers per-domain UNIX
// sockets, serves a line-terminated request protocol, and is fed per-VM
// metrics snapshots by the publication loop under a shared mutex.
package virtio

import (
	"time"

	"github.com/vhostmd/vhostmd-go/daemon/buffer"
)

// Free marks an id-map entry or channel slot as unused.
const Free = -1

const (
	requestBufCap  = 256
	responseBufCap = 8192
	metricsBufCap  = 8192
)

// channelState is a channel slot's position in its free/allocated/
// connected lifecycle. It exists for readability only; the authoritative
// "is this slot in use" signal remains id != Free / fd != Free.
type channelState int

const (
	stateFree channelState = iota
	stateAllocated
	stateConnected
)

// channel is one slot in the bounded pool. fd, epoll registration, and
// response/request buffers are owned exclusively by the reactor goroutine.
// id, name, and the metrics buffer are shared with the publication loop and
// are only touched while holding Server.mu.
type channel struct {
	index int // fixed slot index in Server.pool.channels, set once at creation

	id         int
	fd         int
	domainName string
	socketPath string
	lastUpdate time.Time

	metrics  *buffer.Buffer
	request  *buffer.Buffer
	response *buffer.Buffer
	respPos  int

	state      channelState
	epollOut   bool // true when currently armed for EPOLLOUT instead of EPOLLIN
	registered bool // true once added to the epoll set
}

func newChannel() *channel {
	return &channel{id: Free, fd: Free}
}

// reset returns the slot to the free state, releasing its buffers.
func (c *channel) reset() {
	c.id = Free
	c.fd = Free
	c.domainName = ""
	c.socketPath = ""
	c.lastUpdate = time.Time{}
	c.metrics = nil
	c.request = nil
	c.response = nil
	c.respPos = 0
	c.state = stateFree
	c.epollOut = false
	c.registered = false
}

// allocate transitions a free slot to allocated: it is given an id and its
// three buffers but has no socket yet.
func (c *channel) allocate(id int, name string) {
	c.id = id
	c.domainName = name
	c.fd = Free
	c.metrics = buffer.New(metricsBufCap)
	c.request = buffer.New(requestBufCap)
	c.response = buffer.New(responseBufCap)
	c.respPos = 0
	c.state = stateAllocated
	c.lastUpdate = time.Now()
}

// idMapEntry maps a channel id to its slot index in Server.pool.channels.
type idMapEntry struct {
	id    int
	index int
}
