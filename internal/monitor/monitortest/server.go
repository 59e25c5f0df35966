// Copyright (c) 2025 HYPR. PTE. LTD.
//
// Business Source License 1.1
// See LICENSE file in the project root for details.

// Package monitortest provides a scripted HMP monitor for tests.
package monitortest

import (
	"bufio"
	"io"
	"net"
	"strings"
	"sync"
	"time"
)

const banner = "QEMU 8.2.0 monitor - type 'help' for more information\r\n"

// Server accepts monitor sessions on loopback and records what it sees.
// Each received command is logged as "recv:<cmd>" and, once its simulated
// work is done, "done:<cmd>". Quit closes the session without a prompt.
type Server struct {
	listener net.Listener

	mu      sync.Mutex
	delay   time.Duration
	replies map[string]string
	events  []string
	quit    chan struct{}
	once    sync.Once
	wg      sync.WaitGroup
}

// NewServer listens on 127.0.0.1 with a kernel-chosen port.
func NewServer() (*Server, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, err
	}
	return Serve(ln), nil
}

// Serve runs the stub on an existing listener.
func Serve(ln net.Listener) *Server {
	s := &Server{listener: ln, quit: make(chan struct{}), replies: map[string]string{}}
	s.wg.Add(1)
	go s.acceptLoop()
	return s
}

// SetDelay makes every waited command take d before its prompt is printed.
func (s *Server) SetDelay(d time.Duration) {
	s.mu.Lock()
	s.delay = d
	s.mu.Unlock()
}

// SetReply sets the output printed for cmd before the next prompt.
func (s *Server) SetReply(cmd, out string) {
	s.mu.Lock()
	s.replies[cmd] = out
	s.mu.Unlock()
}

// Port returns the listening port.
func (s *Server) Port() int {
	return s.listener.Addr().(*net.TCPAddr).Port
}

// Events returns a copy of the recorded event log.
func (s *Server) Events() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.events))
	copy(out, s.events)
	return out
}

// Commands returns the received commands in order.
func (s *Server) Commands() []string {
	var cmds []string
	for _, ev := range s.Events() {
		if cmd, ok := strings.CutPrefix(ev, "recv:"); ok {
			cmds = append(cmds, cmd)
		}
	}
	return cmds
}

// Quit is closed after a quit command has been received.
func (s *Server) Quit() <-chan struct{} {
	return s.quit
}

// Close stops accepting and waits for the accept loop.
func (s *Server) Close() error {
	err := s.listener.Close()
	s.wg.Wait()
	return err
}

func (s *Server) record(ev string) {
	s.mu.Lock()
	s.events = append(s.events, ev)
	s.mu.Unlock()
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return
		}
		go s.handle(conn)
	}
}

func (s *Server) handle(conn net.Conn) {
	defer conn.Close()
	if _, err := io.WriteString(conn, banner+"(qemu) "); err != nil {
		return
	}
	reader := bufio.NewReader(conn)
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			return
		}
		cmd := strings.TrimSpace(line)
		s.record("recv:" + cmd)
		if cmd == "quit" {
			s.record("done:" + cmd)
			s.once.Do(func() { close(s.quit) })
			return
		}
		s.mu.Lock()
		delay := s.delay
		out, ok := s.replies[cmd]
		s.mu.Unlock()
		if delay > 0 {
			time.Sleep(delay)
		}
		s.record("done:" + cmd)
		reply := cmd + "\r\n"
		if ok {
			reply += out + "\r\n"
		}
		if _, err := io.WriteString(conn, reply+"(qemu) "); err != nil {
			return
		}
	}
}
