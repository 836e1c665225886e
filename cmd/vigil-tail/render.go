// Copyright 2026 The Vigil Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"io"
	"time"

	"github.com/vigil-systems/vigil/lib/capture"
	"github.com/vigil-systems/vigil/lib/patrol"
)

// printer renders stream events as lines on out. Text and reasoning
// deltas are written raw so streamed output reads continuously; any
// other event first terminates the open line.
type printer struct {
	out     io.Writer
	midLine bool
}

func newPrinter(out io.Writer) *printer {
	return &printer{out: out}
}

// Event renders one dispatched event.
func (p *printer) Event(event patrol.Event) {
	switch event.Kind {
	case patrol.KindTextDelta:
		fmt.Fprint(p.out, event.Text)
		p.midLine = !endsWithNewline(event.Text)

	case patrol.KindReasoningDelta:
		// Reasoning is auxiliary; keep it visually distinct from
		// the investigation's own text.
		fmt.Fprint(p.out, event.Text)
		p.midLine = !endsWithNewline(event.Text)

	case patrol.KindPhase:
		p.flushLine()
		fmt.Fprintf(p.out, "── phase: %s\n", event.Phase)

	case patrol.KindToolStart:
		p.flushLine()
		fmt.Fprintf(p.out, "▶ %s\n", event.Tool)

	case patrol.KindResult:
		p.flushLine()
		if event.Message != "" {
			fmt.Fprintf(p.out, "✔ %s\n", event.Message)
		} else {
			fmt.Fprintln(p.out, "✔ done")
		}

	case patrol.KindError:
		p.flushLine()
		fmt.Fprintf(p.out, "✘ %s\n", event.Message)
	}
}

// Mark renders a lifecycle annotation from a capture replay.
func (p *printer) Mark(record capture.Record) {
	p.flushLine()
	if record.Detail != "" {
		fmt.Fprintf(p.out, "· [%s] %s %s\n", record.At.Format(time.RFC3339), record.Mark, record.Detail)
		return
	}
	fmt.Fprintf(p.out, "· [%s] %s\n", record.At.Format(time.RFC3339), record.Mark)
}

// Finish prints the session summary after the stream reaches a
// terminal state.
func (p *printer) Finish(snapshot patrol.Snapshot, elapsed time.Duration) {
	p.flushLine()
	fmt.Fprintf(p.out, "\nsession %s after %s", snapshot.State, elapsed.Round(time.Millisecond))
	if snapshot.Tokens > 0 {
		fmt.Fprintf(p.out, ", %d tokens", snapshot.Tokens)
	}
	if snapshot.ReconnectCount > 0 {
		fmt.Fprintf(p.out, ", %d reconnects", snapshot.ReconnectCount)
	}
	fmt.Fprintln(p.out)
	if snapshot.OutputTruncated {
		fmt.Fprintf(p.out, "warning: server resynced (%s); some output was not replayed\n",
			snapshot.ResyncReason)
	}
	if snapshot.State == patrol.StateFailed && snapshot.LastError != "" {
		fmt.Fprintf(p.out, "failure: %s\n", snapshot.LastError)
	}
}

func (p *printer) flushLine() {
	if p.midLine {
		fmt.Fprintln(p.out)
		p.midLine = false
	}
}

func endsWithNewline(s string) bool {
	return len(s) > 0 && s[len(s)-1] == '\n'
}
