package process

import (
	"bytes"
	"context"
)

// Output is the captured output of a short-lived command.
type Output struct {
	Stdout []byte
	Stderr []byte
}

// Run starts spec, waits for it and returns its captured output. A
// PartialSuccess exit is returned without error. Cancelling ctx stops the
// process; Run still waits for the exit to be observed.
func Run(ctx context.Context, spec Spec) (Output, error) {
	var stdout, stderr bytes.Buffer
	p := New(spec)
	p.Attach(&stdout, &stderr)
	if err := p.Start(); err != nil {
		return Output{}, err
	}

	select {
	case <-p.Done():
	case <-ctx.Done():
		_ = p.Stop()
		<-p.Done()
		return Output{Stdout: stdout.Bytes(), Stderr: stderr.Bytes()}, ctx.Err()
	}

	res := p.Wait()
	out := Output{Stdout: stdout.Bytes(), Stderr: stderr.Bytes()}
	if !res.OK() {
		return out, res.Err
	}
	return out, nil
}
