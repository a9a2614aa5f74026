// Command mysqlproxy-inspect is a terminal viewer for mysqlproxy's
// structured JSON log stream (mysqlproxy -log-format json). It tails a
// file or stdin, rendering a live, scrolling list of session events with
// a syntax-highlighted detail pane per event.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"
)

func main() {
	fs := flag.NewFlagSet("mysqlproxy-inspect", flag.ExitOnError)
	file := fs.String("f", "", "JSON log file to tail (default: read stdin)")
	_ = fs.Parse(os.Args[1:])

	src, closeFn, err := openSource(*file)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer closeFn()

	events := make(chan logEvent, 256)
	go func() {
		defer close(events)
		if err := tailLines(src, events); err != nil {
			fmt.Fprintln(os.Stderr, "mysqlproxy-inspect: read error:", err)
		}
	}()

	p := tea.NewProgram(newModel(events), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		fmt.Fprintln(os.Stderr, "mysqlproxy-inspect:", err)
		os.Exit(1)
	}
}

// openSource returns stdin when path is empty, or a polling tail reader
// over path otherwise. The returned closer must be called on exit.
func openSource(path string) (io.Reader, func(), error) {
	if path == "" {
		return os.Stdin, func() {}, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open %q: %w", path, err)
	}
	return &followReader{f: f}, func() { _ = f.Close() }, nil
}

// followReader implements io.Reader over a growing file, blocking and
// retrying on EOF instead of returning it, in the manner of `tail -f`.
type followReader struct {
	f *os.File
	r *bufio.Reader
}

func (fr *followReader) Read(p []byte) (int, error) {
	if fr.r == nil {
		fr.r = bufio.NewReader(fr.f)
	}
	for {
		n, err := fr.r.Read(p)
		if n > 0 {
			return n, nil
		}
		if err == io.EOF {
			time.Sleep(200 * time.Millisecond)
			continue
		}
		return n, err
	}
}
