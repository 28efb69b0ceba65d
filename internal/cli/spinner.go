package cli

import (
	"fmt"
	"io"
	"sync"
	"time"

	"golang.org/x/term"
)

var spinnerFrames = []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}

const spinnerInterval = 120 * time.Millisecond

// Spinner animates a progress message on stderr while the session waits on a
// model call or a build. On a non-terminal writer it degrades to printing the
// message once.
type Spinner struct {
	w   io.Writer
	tty bool

	mu      sync.Mutex
	msg     string
	active  bool
	done    chan struct{}
	stopped chan struct{}
}

func NewSpinner(w io.Writer) *Spinner {
	s := &Spinner{w: w}
	type fdWriter interface{ Fd() uintptr }
	if f, ok := w.(fdWriter); ok {
		s.tty = term.IsTerminal(int(f.Fd()))
	}
	return s
}

func (s *Spinner) Start(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active {
		s.msg = msg
		return
	}
	s.active = true
	s.msg = msg
	if !s.tty {
		fmt.Fprintln(s.w, msg)
		return
	}
	s.done = make(chan struct{})
	s.stopped = make(chan struct{})
	go s.animate(s.done, s.stopped)
}

func (s *Spinner) SetMessage(msg string) {
	s.mu.Lock()
	s.msg = msg
	s.mu.Unlock()
}

// Stop ends the animation and erases the spinner line before returning, so
// following output starts on a clean line.
func (s *Spinner) Stop() {
	s.mu.Lock()
	if !s.active {
		s.mu.Unlock()
		return
	}
	s.active = false
	done, stopped := s.done, s.stopped
	s.done, s.stopped = nil, nil
	s.mu.Unlock()

	if done != nil {
		close(done)
		<-stopped
	}
}

func (s *Spinner) animate(done, stopped chan struct{}) {
	defer close(stopped)
	ticker := time.NewTicker(spinnerInterval)
	defer ticker.Stop()
	i := 0
	for {
		select {
		case <-done:
			fmt.Fprint(s.w, "\r\033[K")
			return
		case <-ticker.C:
			s.mu.Lock()
			msg := s.msg
			s.mu.Unlock()
			fmt.Fprintf(s.w, "\r\033[K%s %s", spinnerFrames[i%len(spinnerFrames)], msg)
			i++
		}
	}
}
