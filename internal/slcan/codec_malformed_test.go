package slcan

import (
	"bytes"
	"strings"
	"testing"

	"github.com/canlink-io/canlink/internal/can"
	"github.com/canlink-io/canlink/internal/metrics"
)

// TestDecodeStreamMalformed ensures bad hex, error acks and runaway
// garbage all increment the malformed metric without stalling the stream.
func TestDecodeStreamMalformed(t *testing.T) {
	codec := Codec{}

	cases := []struct {
		name  string
		input string
	}{
		{"bad_hex", "t12G1AA\r"},
		{"dlc_too_big", "t1239AABBCCDDEEFF0011\r"},
		{"error_ack", "\x07"},
		{"unterminated_garbage", strings.Repeat("x", maxLine+1)},
	}
	for _, tc := range cases {
		var buf bytes.Buffer
		buf.WriteString(tc.input)
		before := metrics.Snap().Malformed
		if err := codec.DecodeStream(&buf, func(_ can.Frame) {
			t.Fatalf("%s: unexpected frame decoded", tc.name)
		}); err != nil {
			t.Fatalf("%s: DecodeStream error: %v", tc.name, err)
		}
		after := metrics.Snap().Malformed
		if after <= before {
			t.Fatalf("%s: expected malformed metric increment, before=%d after=%d", tc.name, before, after)
		}
	}
}

// TestDecodeStreamResyncAfterGarbage verifies a valid frame after a
// malformed line still decodes.
func TestDecodeStreamResyncAfterGarbage(t *testing.T) {
	codec := Codec{}
	var buf bytes.Buffer
	buf.WriteString("t12\r")       // short line
	buf.WriteString("t1232DEAD\r") // valid

	var got []can.Frame
	if err := codec.DecodeStream(&buf, func(fr can.Frame) {
		got = append(got, fr.CopyShallow())
	}); err != nil {
		t.Fatalf("DecodeStream error: %v", err)
	}
	if len(got) != 1 || got[0].ID != 0x123 || got[0].Len != 2 {
		t.Fatalf("resync decode failed: %+v", got)
	}
}
