package udp

import (
	"fmt"
	"sync"

	"golang.org/x/sys/unix"
)

// Poller multiplexes readiness across every registered Socket with a
// single epoll instance, so the Receiver agent makes at most one
// poll/epoll syscall per work iteration regardless of how many channel
// endpoints it owns.
type Poller struct {
	epfd int

	mu       sync.Mutex
	byFD     map[int]*Socket
	events   []unix.EpollEvent
	readyBuf []*Socket
}

// NewPoller creates an epoll-backed Poller with room for up to maxEvents
// ready sockets per Poll call.
func NewPoller(maxEvents int) (*Poller, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("udp: epoll_create1: %w", err)
	}
	return &Poller{
		epfd:   epfd,
		byFD:   make(map[int]*Socket),
		events: make([]unix.EpollEvent, maxEvents),
	}, nil
}

// Add registers s for read-readiness notification.
func (p *Poller) Add(s *Socket) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	ev := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(s.Fd())}
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, s.Fd(), &ev); err != nil {
		return fmt.Errorf("udp: epoll_ctl add: %w", err)
	}
	p.byFD[s.Fd()] = s
	return nil
}

// Remove deregisters s.
func (p *Poller) Remove(s *Socket) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.byFD, s.Fd())
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, s.Fd(), nil); err != nil {
		return fmt.Errorf("udp: epoll_ctl del: %w", err)
	}
	return nil
}

// Poll blocks for up to timeoutMillis (0 returns immediately, matching
// the non-blocking-agent-loop discipline every driver agent follows) and
// returns the sockets that became read-ready.
func (p *Poller) Poll(timeoutMillis int) ([]*Socket, error) {
	n, err := unix.EpollWait(p.epfd, p.events, timeoutMillis)
	if err != nil {
		if err == unix.EINTR {
			return nil, nil
		}
		return nil, fmt.Errorf("udp: epoll_wait: %w", err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.readyBuf = p.readyBuf[:0]
	for i := 0; i < n; i++ {
		if s, ok := p.byFD[int(p.events[i].Fd)]; ok {
			p.readyBuf = append(p.readyBuf, s)
		}
	}
	return p.readyBuf, nil
}

// Close releases the epoll instance. Registered sockets are not closed.
func (p *Poller) Close() error {
	return unix.Close(p.epfd)
}
