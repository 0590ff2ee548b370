package modbus

import "github.com/commatea/modbus-sniffer/pkg/crc"

// maxFrameLen is the largest RTU frame this reconstructor will attempt
// to validate; Modbus RTU frames never exceed 256 bytes on the wire.
const maxFrameLen = 256

// candidateLengths returns the ascending, de-duplicated set of frame
// lengths worth trying for a given candidate function byte, capped at
// maxLen. The set is a direct transcription of the per-function-code
// framing rules: fixed-length requests/responses contribute a length of
// 8, and the data-carrying variants contribute one length per possible
// byte count.
func candidateLengths(funcByte byte, maxLen int) []int {
	seen := make(map[int]struct{})
	add := func(l int) {
		if l <= maxLen {
			seen[l] = struct{}{}
		}
	}

	fc := funcByte & 0x7F
	switch {
	case funcByte&0x80 != 0:
		add(5)
	case fc == FuncReadCoils || fc == FuncReadDiscreteInputs:
		add(8)
		for bc := 1; bc <= 252; bc++ {
			add(5 + bc)
		}
	case fc == FuncReadHoldingRegisters || fc == FuncReadInputRegisters:
		add(8)
		for n := 1; n <= 125; n++ {
			add(5 + 2*n)
		}
	case fc == FuncWriteSingleCoil || fc == FuncWriteSingleRegister:
		add(8)
	case fc == FuncWriteMultipleCoils:
		add(8)
		for bc := 1; bc <= 246; bc++ {
			add(9 + bc)
		}
	case fc == FuncWriteMultipleRegisters:
		add(8)
		for n := 1; n <= 123; n++ {
			add(9 + 2*n)
		}
	default:
		for l := 4; l <= maxLen; l++ {
			add(l)
		}
	}

	lengths := make([]int, 0, len(seen))
	for l := range seen {
		if l >= 4 {
			lengths = append(lengths, l)
		}
	}
	// insertion sort: candidate sets are small (at most a few hundred
	// entries) and callers need them strictly ascending.
	for i := 1; i < len(lengths); i++ {
		for j := i; j > 0 && lengths[j-1] > lengths[j]; j-- {
			lengths[j-1], lengths[j] = lengths[j], lengths[j-1]
		}
	}
	return lengths
}

// Split scans buf for CRC-validated Modbus RTU frames, resynchronising
// on arbitrary byte boundaries. It returns the frames found in arrival
// order, the unconsumed tail of buf, and the number of bytes discarded
// while resynchronising. The tail starts at the first unmatched
// position after the last frame whose function byte allows a frame
// longer than the bytes left, so a frame cut off at the end of buf is
// kept whole for the next call; bytes kept in the tail are not counted
// as discarded. Split is pure and deterministic: the same input always
// yields the same output.
func Split(buf []byte) (frames []Frame, leftover []byte, resyncs int) {
	i := 0
	n := len(buf)
	hold := -1 // start of a frame that may still be arriving
	for i+4 <= n {
		funcByte := buf[i+1]
		maxLen := n - i
		if maxLen > maxFrameLen {
			maxLen = maxFrameLen
		}

		matched := false
		for _, length := range candidateLengths(funcByte, maxLen) {
			if i+length > n {
				continue
			}
			candidate := buf[i : i+length]
			if !crc.ValidLE(candidate) {
				continue
			}
			raw := append([]byte{}, candidate...)
			frames = append(frames, Frame{
				Unit:     raw[0],
				FuncByte: raw[1],
				Payload:  raw[2 : len(raw)-2],
				Raw:      raw,
			})
			i += length
			matched = true
			hold = -1
			break
		}
		if !matched {
			if all := candidateLengths(funcByte, maxFrameLen); hold < 0 && len(all) > 0 && all[len(all)-1] > n-i {
				hold = i
			}
			i++
			resyncs++
		}
	}
	if hold >= 0 {
		resyncs -= i - hold
		i = hold
	}
	leftover = append([]byte{}, buf[i:]...)
	return frames, leftover, resyncs
}
