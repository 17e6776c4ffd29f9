package watcher

import (
	"reflect"
	"testing"
)

func TestDecodeSplitsLines(t *testing.T) {
	var d LineDecoder

	lines, carry := d.Decode([]byte("one\ntwo\nthree\n"), nil)
	if !reflect.DeepEqual(lines, []string{"one", "two", "three"}) {
		t.Errorf("unexpected lines: %v", lines)
	}
	if carry != nil {
		t.Errorf("expected no carry, got %q", carry)
	}
}

func TestDecodeCarryReassembly(t *testing.T) {
	var d LineDecoder

	// A line split across two reads must come out as exactly one line.
	lines, carry := d.Decode([]byte(`{"oid":1,"px":"50`), nil)
	if len(lines) != 0 {
		t.Fatalf("expected no complete lines yet, got %v", lines)
	}
	if string(carry) != `{"oid":1,"px":"50` {
		t.Fatalf("unexpected carry %q", carry)
	}

	lines, carry = d.Decode([]byte("000\"}\nnext"), carry)
	if !reflect.DeepEqual(lines, []string{`{"oid":1,"px":"50000"}`}) {
		t.Errorf("unexpected lines: %v", lines)
	}
	if string(carry) != "next" {
		t.Errorf("unexpected carry %q", carry)
	}
}

func TestDecodeSkipsEmptyAndTrimsCR(t *testing.T) {
	var d LineDecoder

	lines, carry := d.Decode([]byte("a\r\n\n\r\nb\n"), nil)
	if !reflect.DeepEqual(lines, []string{"a", "b"}) {
		t.Errorf("unexpected lines: %v", lines)
	}
	if carry != nil {
		t.Errorf("expected no carry, got %q", carry)
	}
}

func TestDecodeReplacesInvalidUTF8(t *testing.T) {
	var d LineDecoder

	lines, _ := d.Decode([]byte{'a', 0xff, 'b', '\n'}, nil)
	if len(lines) != 1 {
		t.Fatalf("expected one line, got %v", lines)
	}
	if lines[0] != "a�b" {
		t.Errorf("expected replacement rune, got %q", lines[0])
	}
}

func TestDecodeEmptyChunkKeepsCarry(t *testing.T) {
	var d LineDecoder

	lines, carry := d.Decode(nil, []byte("pending"))
	if lines != nil {
		t.Errorf("expected no lines, got %v", lines)
	}
	if string(carry) != "pending" {
		t.Errorf("carry lost: %q", carry)
	}
}

func TestFlush(t *testing.T) {
	var d LineDecoder

	line, ok := d.Flush([]byte("tail fragment"))
	if !ok || line != "tail fragment" {
		t.Errorf("Flush = %q, %v", line, ok)
	}
	if _, ok := d.Flush(nil); ok {
		t.Error("Flush of empty carry should report no line")
	}
	if _, ok := d.Flush([]byte("\r")); ok {
		t.Error("Flush of bare CR should report no line")
	}
}
