// Package modbus implements the passive decode side of Modbus RTU: frame
// resynchronisation (Frame Reconstructor), PDU classification (PDU
// Decoder) and request/response correlation (Correlator).
package modbus

// Function codes this service understands. Anything else is decoded as
// a raw, unclassified PDU rather than rejected.
const (
	FuncReadCoils              = 0x01
	FuncReadDiscreteInputs     = 0x02
	FuncReadHoldingRegisters   = 0x03
	FuncReadInputRegisters     = 0x04
	FuncWriteSingleCoil        = 0x05
	FuncWriteSingleRegister    = 0x06
	FuncWriteMultipleCoils     = 0x0F
	FuncWriteMultipleRegisters = 0x10
)

// ExceptionDescription returns the human-readable name of a standard
// Modbus exception code, or "" if unknown.
func ExceptionDescription(code byte) string {
	switch code {
	case 0x01:
		return "illegal function"
	case 0x02:
		return "illegal data address"
	case 0x03:
		return "illegal data value"
	case 0x04:
		return "slave device failure"
	case 0x05:
		return "acknowledge"
	case 0x06:
		return "slave busy"
	case 0x08:
		return "parity error"
	case 0x0A:
		return "gateway path unavailable"
	case 0x0B:
		return "gateway target device failed to respond"
	default:
		return ""
	}
}

// Frame is an immutable, CRC-validated Modbus RTU frame as produced by
// the Frame Reconstructor.
type Frame struct {
	Unit     byte
	FuncByte byte
	Payload  []byte // bytes[2 .. n-2]
	Raw      []byte // the complete frame, including unit/func/crc
}

// FunctionCode returns the low 7 bits of the function byte.
func (f Frame) FunctionCode() byte { return f.FuncByte & 0x7F }

// IsException reports whether the high bit of the function byte is set.
func (f Frame) IsException() bool { return f.FuncByte&0x80 != 0 }
