package virtio

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"

	"github.com/vhostmd/vhostmd-go/daemon/buffer"
	"github.com/vhostmd/vhostmd-go/daemon/logger"
)

const (
	validRequestLF   = "GET /metrics/XML\n\n"
	validRequestCRLF = "GET /metrics/XML\r\n\r\n"
)

type requestStatus int

const (
	requestIncomplete requestStatus = iota
	requestValid
	requestInvalid
)

// discover scans discoveryDir for per-domain socket directories and
// connects to any not already associated with a channel. It is a no-op
// once the pool has no free slots left (connection_count < channel_count
// is not required to be true; find still rejects once channelCount hits
// channelMax).
func (s *Server) discover() {
	s.mu.Lock()
	full := s.pool.channelCount >= s.pool.channelMax
	s.mu.Unlock()
	if full {
		return
	}

	entries, err := os.ReadDir(s.discoveryDir)
	if err != nil {
		return
	}

	for _, e := range entries {
		id, name, ok := parseDomainDir(e.Name())
		if !ok {
			continue
		}

		socketPath := filepath.Join(s.discoveryDir, e.Name(), s.channelName)
		fi, err := os.Stat(socketPath)
		if err != nil || fi.Mode()&os.ModeSocket == 0 {
			continue
		}

		s.mu.Lock()
		ch, exists := s.pool.find(id, name, false)
		alreadyConnected := exists && ch.fd != Free
		s.mu.Unlock()
		if alreadyConnected {
			continue
		}

		if !exists {
			s.mu.Lock()
			ch, exists = s.pool.find(id, name, true)
			s.mu.Unlock()
			if !exists {
				logger.Error("virtio: channel pool exhausted (max %d), dropping domain %d", s.pool.channelMax, id)
				continue
			}
		}

		if err := s.connect(ch, socketPath); err != nil {
			logger.Warning("virtio: connecting to %s: %v", socketPath, err)
		}
	}
}

// parseDomainDir extracts the domain id and name from a "domain-<id>-<name>"
// directory entry.
func parseDomainDir(name string) (id int, domainName string, ok bool) {
	const prefix = "domain-"
	if !strings.HasPrefix(name, prefix) {
		return 0, "", false
	}
	rest := name[len(prefix):]
	idx := strings.Index(rest, "-")
	idPart := rest
	if idx >= 0 {
		idPart = rest[:idx]
		domainName = rest[idx+1:]
	}
	n, err := strconv.Atoi(idPart)
	if err != nil {
		return 0, "", false
	}
	return n, domainName, true
}

func (s *Server) connect(ch *channel, path string) error {
	fd, err := unix.Socket(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		return err
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return err
	}

	addr := &unix.SockaddrUnix{Name: path}
	if err := unix.Connect(fd, addr); err != nil && err != unix.EINPROGRESS {
		unix.Close(fd)
		return err
	}

	ev := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(fd)}
	if err := unix.EpollCtl(s.epfd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		unix.Close(fd)
		return err
	}

	ch.fd = fd
	ch.socketPath = path
	ch.state = stateConnected
	ch.registered = true
	ch.epollOut = false
	ch.lastUpdate = time.Now()
	s.fdToChannel[fd] = ch
	atomic.AddInt32(&s.connectionCount, 1)
	return nil
}

// handleIO runs epoll_wait in a loop, dispatching ready events, until slice
// of wall-clock time has elapsed.
func (s *Server) handleIO(slice time.Duration) {
	deadline := time.Now().Add(slice)
	events := make([]unix.EpollEvent, 16)

	for {
		remain := time.Until(deadline)
		if remain <= 0 {
			return
		}

		n, err := unix.EpollWait(s.epfd, events, int(remain.Milliseconds()))
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			logger.Error("virtio: epoll_wait: %v", err)
			continue
		}

		for i := 0; i < n; i++ {
			ev := events[i]
			ch, ok := s.fdToChannel[int(ev.Fd)]
			if !ok {
				continue
			}

			switch {
			case ev.Events&(unix.EPOLLHUP|unix.EPOLLERR) != 0:
				s.closeChannel(ch)
			case ev.Events&unix.EPOLLIN != 0:
				s.handleReadable(ch)
			case ev.Events&unix.EPOLLOUT != 0:
				s.continueSend(ch)
			}
		}
	}
}

func (s *Server) handleReadable(ch *channel) {
	buf := make([]byte, 4096)
	n, err := unix.Read(ch.fd, buf)
	if err != nil {
		if err == unix.EAGAIN {
			return
		}
		s.closeChannel(ch)
		return
	}
	if n == 0 {
		s.closeChannel(ch)
		return
	}

	ch.request.Add(buf[:n])
	switch classifyRequest(ch.request) {
	case requestIncomplete:
		return
	case requestValid:
		s.buildResponse(ch)
	case requestInvalid:
		ch.response.Erase()
		ch.response.AddString("INVALID REQUEST\n\n")
		ch.respPos = 0
	}

	ch.request.Erase()
	s.sendPending(ch)
}

func classifyRequest(req *buffer.Buffer) requestStatus {
	s := req.String()
	if s == validRequestLF || s == validRequestCRLF {
		return requestValid
	}
	if req.Len() >= requestBufCap {
		return requestInvalid
	}
	if strings.Contains(s, "\n\n") || strings.Contains(s, "\r\n\r\n") {
		return requestInvalid
	}
	return requestIncomplete
}

func (s *Server) buildResponse(ch *channel) {
	s.mu.Lock()
	host := s.pool.channels[0].metrics.String()
	vm := ch.metrics.String()
	s.mu.Unlock()

	if host == "" {
		host = "<!-- host metrics not available -->\n"
	}
	if vm == "" {
		vm = "<!-- VM metrics not available -->\n"
	}

	ch.response.Erase()
	ch.response.AddString("<metrics>\n")
	ch.response.AddString(host)
	ch.response.AddString(vm)
	ch.response.AddString("</metrics>\n\n")
	ch.respPos = 0
}

func (s *Server) continueSend(ch *channel) {
	s.sendPending(ch)
}

// sendPending writes as much of ch.response as the socket accepts without
// blocking, tracking progress in ch.respPos and re-arming the epoll
// registration for EPOLLOUT or EPOLLIN as appropriate.
func (s *Server) sendPending(ch *channel) {
	data := ch.response.Bytes()

	for ch.respPos < len(data) {
		n, err := unix.Write(ch.fd, data[ch.respPos:])
		if err != nil {
			if err == unix.EAGAIN {
				break
			}
			s.closeChannel(ch)
			return
		}
		if n == 0 {
			break
		}
		ch.respPos += n
	}

	s.rearm(ch, ch.respPos < len(data))
}

func (s *Server) rearm(ch *channel, forWrite bool) {
	if ch.epollOut == forWrite {
		return
	}
	events := uint32(unix.EPOLLIN)
	if forWrite {
		events = unix.EPOLLOUT
	}
	ev := unix.EpollEvent{Events: events, Fd: int32(ch.fd)}
	if err := unix.EpollCtl(s.epfd, unix.EPOLL_CTL_MOD, ch.fd, &ev); err != nil {
		logger.Error("virtio: re-arming fd %d: %v", ch.fd, err)
		return
	}
	ch.epollOut = forWrite
}

// closeChannel tears down a connected channel's socket and epoll
// registration and returns its pool slot to the free list.
func (s *Server) closeChannel(ch *channel) {
	if ch.registered {
		unix.EpollCtl(s.epfd, unix.EPOLL_CTL_DEL, ch.fd, nil)
	}
	if ch.fd != Free {
		unix.Close(ch.fd)
		delete(s.fdToChannel, ch.fd)
		atomic.AddInt32(&s.connectionCount, -1)
	}

	s.mu.Lock()
	s.pool.free(ch.index)
	s.mu.Unlock()
}

// expire closes any channel whose metrics have not been refreshed within
// the configured TTL. It runs between epoll slices, so it never races a
// read in progress.
func (s *Server) expire() {
	now := time.Now()

	s.mu.Lock()
	var stale []*channel
	for i := 1; i <= s.pool.channelMax; i++ {
		c := s.pool.channels[i]
		if c.id != Free && now.Sub(c.lastUpdate) > s.ttl {
			stale = append(stale, c)
		}
	}
	s.mu.Unlock()

	for _, c := range stale {
		s.closeChannel(c)
	}
}

// cleanup tears down every connected channel and closes the epoll instance.
// Called once when Run's loop exits.
func (s *Server) cleanup() {
	for i := 1; i <= s.pool.channelMax; i++ {
		ch := s.pool.channels[i]
		if ch.fd != Free {
			s.closeChannel(ch)
		}
	}
	unix.Close(s.epfd)
}
