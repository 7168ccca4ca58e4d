//go:build unix

// Package runloop provides a poll(2)-driven readiness loop for the
// non-blocking descriptors used by the uart transport. Handlers run on
// the goroutine that calls Run; registration and flag changes are safe
// from other goroutines and interrupt a blocked poll through a self-pipe.
package runloop

import (
	"fmt"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/kstaniek/go-hciuart/uart"
)

// pollErrors are always reported by poll regardless of requested events.
const pollErrors = int16(unix.POLLHUP | unix.POLLNVAL | unix.POLLERR)

type source struct {
	fd      int
	handler func(uart.Event)
	events  int16 // requested POLLIN/POLLOUT bits; sticky until disabled
}

// Loop multiplexes readiness over registered descriptors.
type Loop struct {
	mu      sync.Mutex
	sources map[int]*source

	wakeR, wakeW int // self-pipe, POLLIN side always polled

	quitOnce sync.Once
	quit     chan struct{}

	start time.Time
}

// New creates a stopped loop; call Run to drive it.
func New() (*Loop, error) {
	var p [2]int
	if err := unix.Pipe(p[:]); err != nil {
		return nil, fmt.Errorf("runloop: pipe: %w", err)
	}
	_ = unix.SetNonblock(p[0], true)
	_ = unix.SetNonblock(p[1], true)
	return &Loop{
		sources: make(map[int]*source),
		wakeR:   p[0],
		wakeW:   p[1],
		quit:    make(chan struct{}),
		start:   time.Now(),
	}, nil
}

// Add registers fd with its readiness handler. No events are requested
// until Enable.
func (l *Loop) Add(fd int, h func(uart.Event)) {
	l.mu.Lock()
	l.sources[fd] = &source{fd: fd, handler: h}
	l.mu.Unlock()
	l.wake()
}

// Remove deregisters fd; pending events for it are discarded.
func (l *Loop) Remove(fd int) {
	l.mu.Lock()
	delete(l.sources, fd)
	l.mu.Unlock()
	l.wake()
}

// Enable requests readiness notifications of the given kind for fd. The
// flag stays set until Disable.
func (l *Loop) Enable(fd int, ev uart.Event) {
	l.setEvents(fd, ev, true)
}

// Disable stops readiness notifications of the given kind for fd.
func (l *Loop) Disable(fd int, ev uart.Event) {
	l.setEvents(fd, ev, false)
}

func (l *Loop) setEvents(fd int, ev uart.Event, on bool) {
	bit := int16(unix.POLLIN)
	if ev == uart.Writable {
		bit = int16(unix.POLLOUT)
	}
	l.mu.Lock()
	if s, ok := l.sources[fd]; ok {
		if on {
			s.events |= bit
		} else {
			s.events &^= bit
		}
	}
	l.mu.Unlock()
	l.wake()
}

// NowMS returns milliseconds since the loop was created, from the
// monotonic clock.
func (l *Loop) NowMS() uint32 {
	return uint32(time.Since(l.start).Milliseconds())
}

// Run polls until Stop. It returns the first poll error other than EINTR.
func (l *Loop) Run() error {
	for {
		select {
		case <-l.quit:
			return nil
		default:
		}

		pfds, handlers := l.snapshot()
		n, err := unix.Poll(pfds, -1)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return fmt.Errorf("runloop: poll: %w", err)
		}
		if n == 0 {
			continue
		}

		for i := range pfds {
			re := pfds[i].Revents
			if re == 0 {
				continue
			}
			if int(pfds[i].Fd) == l.wakeR {
				l.drainWake()
				continue
			}
			h := handlers[i]
			if h == nil {
				continue
			}
			// error conditions surface through the read path so the
			// handler observes them on its next syscall
			if re&(unix.POLLIN|pollErrors) != 0 && pfds[i].Events&unix.POLLIN != 0 {
				h(uart.Readable)
			}
			if re&unix.POLLOUT != 0 && pfds[i].Events&unix.POLLOUT != 0 {
				h(uart.Writable)
			}
		}
	}
}

// Stop makes Run return; safe to call more than once.
func (l *Loop) Stop() {
	l.quitOnce.Do(func() { close(l.quit) })
	l.wake()
}

// Close releases the self-pipe. The loop must be stopped first.
func (l *Loop) Close() error {
	_ = unix.Close(l.wakeR)
	return unix.Close(l.wakeW)
}

// snapshot builds the pollfd set under the lock; the wake pipe is always
// slot 0. Handlers are captured alongside so they can be invoked without
// holding the lock.
func (l *Loop) snapshot() ([]unix.PollFd, []func(uart.Event)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	pfds := make([]unix.PollFd, 1, len(l.sources)+1)
	handlers := make([]func(uart.Event), 1, len(l.sources)+1)
	pfds[0] = unix.PollFd{Fd: int32(l.wakeR), Events: unix.POLLIN}
	for _, s := range l.sources {
		if s.events == 0 {
			continue
		}
		pfds = append(pfds, unix.PollFd{Fd: int32(s.fd), Events: s.events})
		handlers = append(handlers, s.handler)
	}
	return pfds, handlers
}

func (l *Loop) wake() {
	var b [1]byte
	_, _ = unix.Write(l.wakeW, b[:])
}

func (l *Loop) drainWake() {
	var b [64]byte
	for {
		n, err := unix.Read(l.wakeR, b[:])
		if n <= 0 || err != nil {
			return
		}
	}
}

var _ uart.RunLoop = (*Loop)(nil)
