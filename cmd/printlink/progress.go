package main

import (
	"fmt"
	"io"
	"os"
	"sync/atomic"
	"time"

	"golang.org/x/term"
)

const (
	progressUpdateInterval = 100 * time.Millisecond
	clearLineSequence      = "\r\033[K"
)

// ProgressPrinter keeps a single status line with elapsed seconds on a terminal.
// It is silent when out is not a terminal, so piped output stays clean.
//
// A ProgressPrinter is single-use: Start at most once, Stop any number of times.
type ProgressPrinter struct {
	out       io.Writer
	enabled   bool
	prefix    string
	phase     atomic.Value // string
	startTime time.Time
	ticker    atomic.Pointer[time.Ticker]
	stopChan  chan struct{}
	done      chan struct{}
	started   atomic.Bool
}

// newProgress creates a progress printer writing to out.
func newProgress(out io.Writer, prefix string) *ProgressPrinter {
	enabled := false
	if f, ok := out.(*os.File); ok {
		enabled = term.IsTerminal(int(f.Fd()))
	}
	p := &ProgressPrinter{out: out, enabled: enabled, prefix: prefix}
	p.phase.Store("")
	return p
}

// Start begins refreshing the status line in a background goroutine.
func (p *ProgressPrinter) Start() {
	if !p.started.CompareAndSwap(false, true) {
		panic("ProgressPrinter.Start called more than once")
	}
	if !p.enabled {
		return
	}

	p.done = make(chan struct{})
	p.stopChan = make(chan struct{})
	p.startTime = time.Now()
	ticker := time.NewTicker(progressUpdateInterval)
	p.ticker.Store(ticker)

	p.print(0)
	go func() {
		defer close(p.done)
		for {
			select {
			case <-p.stopChan:
				return
			case <-ticker.C:
				p.print(int(time.Since(p.startTime).Seconds()))
			}
		}
	}()
}

// Set replaces the phase shown after the prefix. Safe for concurrent use.
func (p *ProgressPrinter) Set(phase string) {
	p.phase.Store(phase)
}

func (p *ProgressPrinter) print(seconds int) {
	phase := p.phase.Load().(string)
	switch {
	case phase == "":
		fmt.Fprintf(p.out, "\r%s... %ds   ", p.prefix, seconds)
	default:
		fmt.Fprintf(p.out, "\r%s (%s) %ds   ", p.prefix, phase, seconds)
	}
}

// Stop clears the status line. Only the first call has an effect.
func (p *ProgressPrinter) Stop() {
	ticker := p.ticker.Swap(nil)
	if ticker == nil {
		return
	}

	ticker.Stop()
	close(p.stopChan)
	<-p.done

	fmt.Fprint(p.out, clearLineSequence)
}
