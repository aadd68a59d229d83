package cmd

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/canlink-io/canlink/internal/can"
)

// parseFrameArg understands cansend syntax: ID#DATA, ID#R[len] for remote
// requests, ID##F<data> for CAN FD where F is a flags nibble. Dots in the
// data part are ignored. Standard ids use 3 hex digits, extended ids more.
func parseFrameArg(s string) (can.Frame, error) {
	var fr can.Frame
	hash := strings.Index(s, "#")
	if hash <= 0 {
		return fr, fmt.Errorf("frame %q: want ID#DATA", s)
	}
	idStr := s[:hash]
	rest := s[hash+1:]

	id64, err := strconv.ParseUint(idStr, 16, 32)
	if err != nil {
		return fr, fmt.Errorf("frame id %q: %v", idStr, err)
	}
	id := uint32(id64)
	if len(idStr) > 3 || id > can.SFFMask {
		if id > can.EFFMask {
			return fr, fmt.Errorf("frame id %q: out of range", idStr)
		}
		fr.ID = id | can.EFFFlag
	} else {
		fr.ID = id
	}

	if strings.HasPrefix(rest, "#") { // FD: ##<flags nibble><data>
		rest = rest[1:]
		if rest == "" {
			return fr, fmt.Errorf("frame %q: missing fd flags nibble", s)
		}
		if _, err := strconv.ParseUint(rest[:1], 16, 8); err != nil {
			return fr, fmt.Errorf("frame %q: bad fd flags nibble", s)
		}
		fr.FD = true
		rest = rest[1:]
	}

	if !fr.FD && strings.HasPrefix(rest, "R") {
		fr.ID |= can.RTRFlag
		if len(rest) > 1 {
			n, err := strconv.Atoi(rest[1:])
			if err != nil || n < 0 || n > can.MaxLen {
				return fr, fmt.Errorf("frame %q: bad rtr length", s)
			}
			fr.Len = uint8(n)
		}
		return fr, nil
	}

	data, err := hex.DecodeString(strings.ReplaceAll(rest, ".", ""))
	if err != nil {
		return fr, fmt.Errorf("frame data %q: %v", rest, err)
	}
	max := can.MaxLen
	if fr.FD {
		max = can.MaxLenFD
	}
	if len(data) > max {
		return fr, fmt.Errorf("frame data: %d bytes exceeds %d", len(data), max)
	}
	fr.Len = uint8(copy(fr.Data[:], data))
	return fr, nil
}

// formatFrame renders a frame candump-style.
func formatFrame(fr can.Frame) string {
	id := fr.Arbitration()
	idStr := fmt.Sprintf("%03X", id)
	if fr.Extended() {
		idStr = fmt.Sprintf("%08X", id)
	}
	switch {
	case fr.ID&can.RTRFlag != 0:
		return fmt.Sprintf("%-8s  [%2d]  remote request", idStr, fr.Len)
	default:
		tag := ""
		if fr.FD {
			tag = "  fd"
		}
		return fmt.Sprintf("%-8s  [%2d]  % X%s", idStr, fr.Len, fr.Payload(), tag)
	}
}
