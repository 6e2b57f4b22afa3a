package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/ZanzyTHEbar/filesearch/fsearch/ports"
	"github.com/ZanzyTHEbar/filesearch/fsearch/searcher"

	"github.com/urfave/cli/v2"
	"golang.org/x/term"
)

func shellCommand() *cli.Command {
	return &cli.Command{
		Name:  "shell",
		Usage: "Search as you type. Enter or Tab shows more results, Esc or Ctrl+C quits",
		Action: func(c *cli.Context) error {
			e, err := setup(c)
			if err != nil {
				return err
			}
			ctx, cancel := signalContext(c)
			defer cancel()

			fd := int(os.Stdin.Fd())
			if !term.IsTerminal(fd) {
				return runLineShell(ctx, e, os.Stdin, os.Stdout)
			}

			old, err := term.MakeRaw(fd)
			if err != nil {
				return runLineShell(ctx, e, os.Stdin, os.Stdout)
			}
			defer term.Restore(fd, old)
			return runRawShell(ctx, cancel, e, fd)
		},
	}
}

// runLineShell reads one query per line. An empty line asks for more
// results of the previous query.
func runLineShell(ctx context.Context, e *env, in io.Reader, out io.Writer) error {
	printer := newResultPrinter(out, false)
	co, stop := e.startCoordinator(ctx, ports.ResultSinkFunc(printer.deliver))

	last := ""
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		q := strings.TrimSpace(scanner.Text())
		if q == "" {
			q = last
		}
		if q == "" {
			continue
		}
		last = q
		if err := co.Find(ctx, q); err != nil && !errors.Is(err, searcher.ErrSuperseded) {
			e.logger.Warn().Err(err).Msg("Search failed")
		}
	}
	return errors.Join(scanner.Err(), co.Release(ctx), stop())
}

// screen redraws the prompt and the result window in raw mode.
type screen struct {
	fd int
	mu sync.Mutex

	query string
	items []string
}

func (s *screen) width() int {
	w, _, err := term.GetSize(s.fd)
	if err != nil || w <= 0 {
		return 80
	}
	return w
}

func (s *screen) deliver(d ports.Delivery) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d.Query != s.query {
		return
	}
	s.items = s.items[:0]
	for _, it := range d.Items {
		s.items = append(s.items, formatItem(it))
	}
	s.drawLocked()
}

func (s *screen) setQuery(q string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.query = q
	if q == "" {
		s.items = s.items[:0]
	}
	s.drawLocked()
}

func (s *screen) drawLocked() {
	w := s.width()
	var b strings.Builder
	b.WriteString("\033[H\033[2J")
	fmt.Fprintf(&b, "> %s\r\n", s.query)
	for _, line := range s.items {
		if utf8.RuneCountInString(line) > w {
			line = string([]rune(line)[:w-1]) + "…"
		}
		b.WriteString(line + "\r\n")
	}
	fmt.Fprintf(&b, "\033[1;%dH", utf8.RuneCountInString(s.query)+3)
	fmt.Fprint(os.Stdout, b.String())
}

const (
	keyCtrlC     = 3
	keyTab       = 9
	keyEnter     = 13
	keyEscape    = 27
	keyBackspace = 127
	keyCtrlH     = 8
	keyCtrlU     = 21
)

func runRawShell(ctx context.Context, cancel context.CancelFunc, e *env, fd int) error {
	scr := &screen{fd: fd}
	co, stop := e.startCoordinator(ctx, ports.ResultSinkFunc(scr.deliver))

	send := func(q string) {
		if err := co.Send(ctx, searcher.KindFind, q); err != nil {
			e.logger.Debug().Err(err).Msg("Search not queued")
		}
	}
	deb := searcher.NewDebouncer(debounceDelay(e.cfg), send)
	defer deb.Close()

	if err := co.Update(ctx); err != nil {
		e.logger.Warn().Err(err).Msg("Update reported errors")
	}
	scr.setQuery("")

	keys := make(chan []byte)
	go func() {
		defer close(keys)
		buf := make([]byte, 64)
		for {
			n, err := os.Stdin.Read(buf)
			if err != nil {
				return
			}
			select {
			case keys <- append([]byte(nil), buf[:n]...):
			case <-ctx.Done():
				return
			}
		}
	}()

	query := []rune{}
loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case in, ok := <-keys:
			if !ok {
				break loop
			}
			switch {
			case in[0] == keyCtrlC || (in[0] == keyEscape && len(in) == 1):
				break loop
			case in[0] == keyEnter || in[0] == keyTab:
				if !deb.Flush() {
					send(string(query))
				}
				continue
			case in[0] == keyBackspace || in[0] == keyCtrlH:
				if len(query) > 0 {
					query = query[:len(query)-1]
				}
			case in[0] == keyCtrlU:
				query = query[:0]
			case in[0] == keyEscape:
				// arrow keys and other sequences
				continue
			default:
				for _, r := range string(in) {
					if r >= ' ' {
						query = append(query, r)
					}
				}
			}
			scr.setQuery(string(query))
			deb.Submit(string(query))
		}
	}

	deb.Close()
	cancel()
	fmt.Fprint(os.Stdout, "\033[H\033[2J")
	return stop()
}
