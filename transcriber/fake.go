package transcriber

import (
	"context"
	"sync/atomic"
	"time"
)

type FakeModel struct {
	text  string
	err   error
	Delay time.Duration

	calls atomic.Int32
}

func NewFake(text string, err error) *FakeModel {
	return &FakeModel{text: text, err: err}
}

func (f *FakeModel) Name() string { return "fake" }

func (f *FakeModel) Calls() int { return int(f.calls.Load()) }

func (f *FakeModel) Transcribe(ctx context.Context, _ string) (string, error) {
	f.calls.Add(1)
	if f.Delay > 0 {
		select {
		case <-time.After(f.Delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if f.err != nil {
		return "", f.err
	}
	return f.text, nil
}
