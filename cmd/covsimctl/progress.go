package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/mattn/go-isatty"
	"golang.org/x/time/rate"

	"covsim/internal/evo"
)

// progress prints at most one cycle line per interval. It stays quiet when
// out is not a terminal unless forced.
type progress struct {
	out     io.Writer
	enabled bool
	total   int
	seen    int
	scored  int64
	every   rate.Sometimes
}

func newProgress(out io.Writer, force bool, total int) *progress {
	return &progress{
		out:     out,
		enabled: force || isTerminal(out),
		total:   total,
		every:   rate.Sometimes{First: 1, Interval: time.Second},
	}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

func (p *progress) observe(record evo.CycleRecord) {
	p.seen++
	p.scored += int64(len(record.Ranked))
	if !p.enabled {
		return
	}
	p.every.Do(func() {
		fmt.Fprintf(p.out, "cycle=%d (%d/%d) best=%.2f mean=%.2f similarity=%.2f%% scored=%s\n",
			record.Cycle+1,
			p.seen,
			p.total,
			record.BestScore,
			record.MeanScore,
			evo.Similarity(record.BestScore, record.MaxScore),
			humanize.Comma(p.scored),
		)
	})
}
