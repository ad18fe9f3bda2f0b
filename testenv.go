package main

import (
	"bufio"
	"context"
	"io"
	"strconv"
	"strings"
	"time"

	"scribe/recorder"
)

// runScript drives the controller from line commands, one per line:
//
//	START [seconds]  STOP  WAIT  TRANSCRIBE  COPY  STATE  SLEEP ms  QUIT
//
// It returns at QUIT, end of input or when ctx is cancelled.
func runScript(ctx context.Context, ctrl *Controller, rec *recorder.Recorder, in io.Reader, out *lineSink) {
	scanner := bufio.NewScanner(in)
	for ctx.Err() == nil && scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 || strings.HasPrefix(fields[0], "#") {
			continue
		}
		arg := ""
		if len(fields) > 1 {
			arg = fields[1]
		}

		switch strings.ToUpper(fields[0]) {
		case "START":
			seconds := ctrl.Duration()
			if arg != "" {
				n, err := strconv.Atoi(arg)
				if err != nil {
					out.printf("ERROR bad duration %q\n", arg)
					continue
				}
				seconds = n
			}
			ctrl.OnStartRequested(seconds)
		case "STOP":
			ctrl.OnStopRequested()
		case "WAIT":
			snap := rec.Wait()
			out.printf("RESULT %s chunks=%d audio=%.3fs reason=%s\n",
				snap.State, snap.Chunks, snap.Recorded().Seconds(), snap.StopReason)
		case "TRANSCRIBE":
			ctrl.OnTranscribeRequested(ctx)
		case "COPY":
			ctrl.CopyLast()
		case "STATE":
			out.printf("STATE %s\n", rec.State())
		case "SLEEP":
			if ms, err := strconv.Atoi(arg); err == nil {
				time.Sleep(time.Duration(ms) * time.Millisecond)
			}
		case "QUIT":
			return
		default:
			out.printf("ERROR unknown command %q\n", fields[0])
		}
	}
}
