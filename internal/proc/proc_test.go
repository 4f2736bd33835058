package proc

import (
	"bytes"
	"context"
	"io"
	"testing"
	"time"

	"github.com/sunfall-audio/tandem/internal/audio"
	"github.com/sunfall-audio/tandem/internal/command"
	"github.com/sunfall-audio/tandem/internal/dsp"
)

func TestConnRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	conn := NewConn(&buf, &buf)

	spec := dsp.DefaultSpec()
	cmd := command.Param("osc1", "freq", 440)
	blk := &audio.Block{Seq: 7, Samples: []int16{1, -1, 32767, -32768}}

	sent := []Envelope{
		{Type: TypePatch, Patch: &spec},
		{Type: TypeCommand, Cmd: &cmd},
		{Type: TypeBlock, Block: blk},
		{Type: TypeHeartbeat, Beat: 123456789, Misses: 3},
		{Type: TypeState, State: "steady"},
		{Type: TypeShutdown},
	}
	for i, e := range sent {
		if err := conn.Send(e); err != nil {
			t.Fatalf("Send %d: %v", i, err)
		}
	}

	for i, want := range sent {
		got, err := conn.Recv()
		if err != nil {
			t.Fatalf("Recv %d: %v", i, err)
		}
		if got.Type != want.Type {
			t.Fatalf("Envelope %d type = %q, want %q", i, got.Type, want.Type)
		}
	}

	// Exhausted stream returns an error
	if _, err := conn.Recv(); err == nil {
		t.Error("Recv past end of stream should fail")
	}
}

func TestConnBlockPayload(t *testing.T) {
	var buf bytes.Buffer
	conn := NewConn(&buf, &buf)

	blk := &audio.Block{Seq: 42, Samples: []int16{0, 100, -100, 32767, -32768}}
	if err := conn.Send(Envelope{Type: TypeBlock, Block: blk}); err != nil {
		t.Fatal(err)
	}

	got, err := conn.Recv()
	if err != nil {
		t.Fatal(err)
	}
	if got.Block == nil {
		t.Fatal("Block payload lost in transit")
	}
	if got.Block.Seq != 42 {
		t.Errorf("Seq = %d, want 42", got.Block.Seq)
	}
	if len(got.Block.Samples) != len(blk.Samples) {
		t.Fatalf("Sample count = %d, want %d", len(got.Block.Samples), len(blk.Samples))
	}
	for i, s := range got.Block.Samples {
		if s != blk.Samples[i] {
			t.Errorf("Sample[%d] = %d, want %d", i, s, blk.Samples[i])
		}
	}
}

func TestConnCommandPayload(t *testing.T) {
	var buf bytes.Buffer
	conn := NewConn(&buf, &buf)

	cmd := command.GateOn("env1", true)
	if err := conn.Send(Envelope{Type: TypeCommand, Cmd: &cmd}); err != nil {
		t.Fatal(err)
	}
	got, err := conn.Recv()
	if err != nil {
		t.Fatal(err)
	}
	if got.Cmd == nil {
		t.Fatal("Command payload lost in transit")
	}
	if got.Cmd.Kind != command.Gate || got.Cmd.Stage != "env1" || !got.Cmd.On {
		t.Errorf("Command = %+v, want gate on env1", got.Cmd)
	}
}

// echoServe reads envelopes and writes each straight back.
func echoServe(ctx context.Context, r io.Reader, w io.Writer) error {
	conn := NewConn(r, w)
	for {
		e, err := conn.Recv()
		if err != nil {
			return err
		}
		if err := conn.Send(e); err != nil {
			return err
		}
	}
}

func TestPipeProcessRoundTrip(t *testing.T) {
	p := NewPipeProcess(echoServe)
	defer p.Kill()

	if p.ID() >= 0 {
		t.Errorf("In-process worker ID = %d, want negative", p.ID())
	}

	if err := p.Send(Envelope{Type: TypeState, State: "ping"}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	got, err := p.Recv()
	if err != nil {
		t.Fatalf("Recv: %v", err)
	}
	if got.Type != TypeState || got.State != "ping" {
		t.Errorf("Echo = %+v", got)
	}
}

func TestPipeProcessKill(t *testing.T) {
	p := NewPipeProcess(echoServe)

	p.Kill()
	p.Kill() // idempotent

	select {
	case <-p.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("Done not closed after Kill")
	}

	if err := p.Send(Envelope{Type: TypeShutdown}); err == nil {
		t.Error("Send after Kill should fail")
	}
	if _, err := p.Recv(); err == nil {
		t.Error("Recv after Kill should fail")
	}
}

func TestPipeProcessDistinctIDs(t *testing.T) {
	a := NewPipeProcess(echoServe)
	b := NewPipeProcess(echoServe)
	defer a.Kill()
	defer b.Kill()
	if a.ID() == b.ID() {
		t.Errorf("Two in-process workers share ID %d", a.ID())
	}
}

func TestPipeSpawner(t *testing.T) {
	spawn := PipeSpawner(echoServe)
	p, err := spawn()
	if err != nil {
		t.Fatalf("Spawner: %v", err)
	}
	defer p.Kill()
	if _, ok := p.(*PipeProcess); !ok {
		t.Errorf("Spawner returned %T, want *PipeProcess", p)
	}
}
