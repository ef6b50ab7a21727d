package virtio

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"
)

// Status values for Server.Status(), a lock-free monotonic state word.
const (
	StatusInit int32 = iota
	StatusActive
	StatusStop
)

// Slice is the fixed wall-clock duration each handleIO pass runs for
// before discover/expire get another turn.
const Slice = 3 * time.Second

// Server is the virtio channel server: a bounded pool of per-domain
// channels serviced by a single reactor goroutine (started via Run),
// fed by the publication loop through UpdateMetrics under mu.
//
// Per spec.md §4.5's concurrency invariants: fd state, epoll registration,
// response/request buffers, and connectionCount are touched only from the
// goroutine running Run. metrics buffers, channelCount, and the id-map are
// shared with callers of UpdateMetrics and are serialized by mu.
type Server struct {
	mu   sync.Mutex
	pool *pool

	epfd         int
	fdToChannel  map[int]*channel
	discoveryDir string
	channelName  string
	ttl          time.Duration

	status          int32
	connectionCount int32

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewServer creates a virtio channel server with channelMax vm slots
// (slot 0 is reserved for host metrics and is not counted against
// channelMax). discoveryDir is scanned for "domain-<id>-<name>" socket
// directories; channelName is the socket file name within each
// (e.g. "org.github.vhostmd.1"); ttl bounds how long a channel may go
// without an UpdateMetrics call before it is closed as idle.
func NewServer(channelMax int, discoveryDir, channelName string, ttl time.Duration) (*Server, error) {
	epfd, err := unix.EpollCreate1(0)
	if err != nil {
		return nil, fmt.Errorf("virtio: epoll_create1: %w", err)
	}

	return &Server{
		pool:         newPool(channelMax),
		epfd:         epfd,
		fdToChannel:  make(map[int]*channel),
		discoveryDir: discoveryDir,
		channelName:  channelName,
		ttl:          ttl,
		status:       StatusInit,
		stopCh:       make(chan struct{}),
		doneCh:       make(chan struct{}),
	}, nil
}

// Run drives the reactor until ctx is canceled or Stop is called, then
// tears down every connected channel and the epoll instance. It is meant
// to run on its own goroutine for the daemon's lifetime.
func (s *Server) Run(ctx context.Context) {
	atomic.StoreInt32(&s.status, StatusActive)
	defer close(s.doneCh)
	defer s.cleanup()
	defer atomic.StoreInt32(&s.status, StatusStop)

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		default:
		}

		s.discover()
		s.handleIO(Slice)
		s.expire()
	}
}

// Stop requests the reactor loop to exit and blocks until cleanup has run.
func (s *Server) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	<-s.doneCh
}

// Status returns the server's current lifecycle state.
func (s *Server) Status() int32 {
	return atomic.LoadInt32(&s.status)
}

// ChannelCount returns the number of allocated vm channel slots
// (excludes slot 0).
func (s *Server) ChannelCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pool.channelCount
}

// ConnectionCount returns the number of channels with an open socket.
func (s *Server) ConnectionCount() int {
	return int(atomic.LoadInt32(&s.connectionCount))
}

// UpdateMetrics is the publication loop's entry point: it replaces the
// named domain's cached metrics payload (or the host slot, for id 0) and
// refreshes its TTL clock. A full pool returns an error; the caller should
// log it and move on, per spec.md §7's "resource exhaustion" handling.
func (s *Server) UpdateMetrics(id int, name string, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch, ok := s.pool.find(id, name, true)
	if !ok {
		return fmt.Errorf("virtio: no free channel slot for domain %d (%s)", id, name)
	}

	ch.metrics.Erase()
	ch.metrics.Add(payload)
	ch.lastUpdate = time.Now()
	return nil
}
