package protocol

import (
	"bytes"
	"testing"
)

func TestSliceInputBuffer(t *testing.T) {
	buf := NewSliceInputBuffer([]byte{1, 2, 3, 4, 5})

	buf.Pop(2)
	if buf.Available() != 3 || buf.Data()[0] != 3 {
		t.Errorf("after Pop(2): %v", buf.Data())
	}

	buf.Pop(10)
	if buf.Available() != 0 {
		t.Errorf("Pop past end left %d bytes", buf.Available())
	}
}

func TestScratchOutput(t *testing.T) {
	s := NewScratchOutput()
	s.Output([]byte{1, 2, 3})
	s.Output([]byte{4, 5})

	if s.CurPosition() != 5 {
		t.Fatalf("position = %d", s.CurPosition())
	}

	s.Update(0, 99)
	if s.Result()[0] != 99 {
		t.Errorf("Update did not patch byte 0")
	}
	if got := s.DataSince(2); !bytes.Equal(got, []byte{3, 4, 5}) {
		t.Errorf("DataSince(2) = %v", got)
	}
	if s.DataSince(6) != nil {
		t.Error("DataSince past end should be nil")
	}

	s.Reset()
	if s.CurPosition() != 0 {
		t.Errorf("position after Reset = %d", s.CurPosition())
	}
}

func TestScratchOutputTruncates(t *testing.T) {
	s := NewScratchOutput()
	s.Output(make([]byte, MessageMax+10))
	if s.CurPosition() != MessageMax {
		t.Errorf("position = %d, want %d", s.CurPosition(), MessageMax)
	}
}

func TestFifoBuffer(t *testing.T) {
	fifo := NewFifoBuffer(10)
	if !fifo.IsEmpty() {
		t.Fatal("new fifo not empty")
	}

	if n := fifo.Write([]byte{1, 2, 3, 4, 5}); n != 5 {
		t.Fatalf("wrote %d", n)
	}

	out := make([]byte, 3)
	if n := fifo.Read(out); n != 3 || !bytes.Equal(out, []byte{1, 2, 3}) {
		t.Errorf("read %d: %v", n, out)
	}

	fifo.Pop(1)
	if fifo.Available() != 1 {
		t.Errorf("available = %d", fifo.Available())
	}

	fifo.Reset()
	if n := fifo.Write(make([]byte, 12)); n != 9 {
		t.Errorf("size 10 fifo accepted %d bytes, want 9", n)
	}
	if fifo.Free() != 0 {
		t.Errorf("free = %d", fifo.Free())
	}
}

func TestFifoBufferWrappedData(t *testing.T) {
	fifo := NewFifoBuffer(5)
	fifo.Write([]byte{1, 2, 3, 4})
	fifo.Read(make([]byte, 2))
	fifo.Write([]byte{5, 6})

	if got := fifo.Data(); !bytes.Equal(got, []byte{3, 4, 5, 6}) {
		t.Errorf("Data() = %v", got)
	}

	fifo.Pop(3)
	if got := fifo.Data(); !bytes.Equal(got, []byte{6}) {
		t.Errorf("after Pop(3) Data() = %v", got)
	}
}
