package main

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/ZanzyTHEbar/filesearch/fsearch/ports"

	"golang.org/x/term"
)

var spinnerFrames = []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}

// console is the terminal Interactor. The spinner animates only when the
// output is a terminal.
type console struct {
	out  io.Writer
	tty  bool
	mu   sync.Mutex
	stop chan struct{}
	done chan struct{}
}

var _ ports.Interactor = (*console)(nil)

func newConsole(out *os.File) *console {
	return &console{out: out, tty: term.IsTerminal(int(out.Fd()))}
}

func (c *console) Output(message string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintln(c.out, message)
}

func (c *console) Warning(message string) {
	c.Output("warning: " + message)
}

func (c *console) Error(message string, err error) {
	if err != nil {
		message = fmt.Sprintf("%s: %v", message, err)
	}
	c.Output("error: " + message)
}

func (c *console) StartSpinner(message string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stop != nil {
		return
	}
	if !c.tty {
		fmt.Fprintln(c.out, message+"...")
		return
	}

	c.stop, c.done = make(chan struct{}), make(chan struct{})
	go func(stop, done chan struct{}) {
		defer close(done)
		t := time.NewTicker(100 * time.Millisecond)
		defer t.Stop()
		for i := 0; ; i++ {
			c.mu.Lock()
			fmt.Fprintf(c.out, "\r%s %s", spinnerFrames[i%len(spinnerFrames)], message)
			c.mu.Unlock()
			select {
			case <-stop:
				return
			case <-t.C:
			}
		}
	}(c.stop, c.done)
}

func (c *console) StopSpinner(success bool, message string) {
	c.mu.Lock()
	stop, done := c.stop, c.done
	c.stop, c.done = nil, nil
	c.mu.Unlock()

	if stop != nil {
		close(stop)
		<-done
	}

	mark := "✓"
	if !success {
		mark = "✗"
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.tty {
		fmt.Fprint(c.out, "\r\033[2K")
	}
	fmt.Fprintf(c.out, "%s %s\n", mark, message)
}
