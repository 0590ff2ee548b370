package modbus

// FrameType classifies a DecodedFrame the way the wire cannot: Modbus
// RTU carries no direction bit, so request/response is inferred from
// payload shape.
type FrameType string

const (
	FrameRequest   FrameType = "request"
	FrameResponse  FrameType = "response"
	FrameException FrameType = "exception"
	FrameUnknown   FrameType = "unknown"
)

// Field is one structured value surfaced from a decoded PDU: either a
// named numeric value (Value populated) or a raw byte run (Raw
// populated) when the decoder gives up on structure.
type Field struct {
	Label string
	Value uint32
	Raw   []byte
	IsRaw bool
}

// DecodedFrame is the C component's output for one Frame: enough
// structure for a correlator or a human to make sense of it, degrading
// gracefully to raw fields when the payload doesn't fit the expected
// shape.
type DecodedFrame struct {
	Unit         byte
	FunctionCode byte
	Exception    bool
	Type         FrameType
	Fields       []Field
	Notes        []string

	// populated only for the shapes the Correlator needs
	StartAddress  uint16
	Quantity      uint16
	RegisterVals  []uint16
	WriteAddress  uint16
	WriteValue    uint16
	ExceptionCode byte
}

func u16(b []byte) uint16 { return uint16(b[0])<<8 | uint16(b[1]) }

// Decode classifies f and extracts whatever structured fields its
// payload shape supports. Decode never fails: malformed or truncated
// payloads degrade to a raw field or a diagnostic note rather than an
// error.
func Decode(f Frame) DecodedFrame {
	fc := f.FunctionCode()
	out := DecodedFrame{
		Unit:         f.Unit,
		FunctionCode: fc,
		Exception:    f.IsException(),
	}

	if out.Exception {
		out.Type = FrameException
		if len(f.Payload) >= 1 {
			out.ExceptionCode = f.Payload[0]
			out.Fields = append(out.Fields, Field{Label: "Exception Code", Value: uint32(f.Payload[0])})
			if len(f.Payload) > 1 {
				out.Fields = append(out.Fields, Field{Label: "Extra Data", Raw: f.Payload[1:], IsRaw: true})
			}
		} else {
			out.Notes = append(out.Notes, "no exception code present")
		}
		return out
	}

	switch fc {
	case FuncReadCoils, FuncReadDiscreteInputs, FuncReadHoldingRegisters, FuncReadInputRegisters:
		decodeReadFC(f.Payload, fc, &out)
	case FuncWriteSingleCoil, FuncWriteSingleRegister:
		decodeWriteSingle(f.Payload, &out)
	case FuncWriteMultipleCoils:
		decodeWriteMultiple(f.Payload, false, &out)
	case FuncWriteMultipleRegisters:
		decodeWriteMultiple(f.Payload, true, &out)
	default:
		out.Type = FrameUnknown
		if len(f.Payload) > 0 {
			out.Fields = append(out.Fields, Field{Label: "Payload", Raw: f.Payload, IsRaw: true})
		}
	}
	return out
}

func decodeReadFC(payload []byte, fc byte, out *DecodedFrame) {
	if len(payload) == 4 {
		out.Type = FrameRequest
		out.StartAddress = u16(payload[0:2])
		out.Quantity = u16(payload[2:4])
		out.Fields = append(out.Fields,
			Field{Label: "Start Address", Value: uint32(out.StartAddress)},
			Field{Label: "Quantity", Value: uint32(out.Quantity)},
		)
		return
	}

	out.Type = FrameResponse
	if len(payload) == 0 {
		out.Notes = append(out.Notes, "empty response payload")
		return
	}
	byteCount := int(payload[0])
	data := payload[1:]
	out.Fields = append(out.Fields, Field{Label: "Byte Count", Value: uint32(byteCount)})
	if byteCount != len(data) {
		out.Notes = append(out.Notes, "byte count inconsistent with available data")
		if byteCount > len(data) {
			byteCount = len(data)
		}
	}
	data = data[:byteCount]

	if fc == FuncReadHoldingRegisters || fc == FuncReadInputRegisters {
		for i := 0; i+2 <= len(data); i += 2 {
			v := u16(data[i : i+2])
			out.RegisterVals = append(out.RegisterVals, v)
			out.Fields = append(out.Fields, Field{Label: "Register", Value: uint32(v)})
		}
	} else if len(data) > 0 {
		out.Fields = append(out.Fields, Field{Label: "Coils", Raw: data, IsRaw: true})
	}
}

func decodeWriteSingle(payload []byte, out *DecodedFrame) {
	if len(payload) < 4 {
		out.Type = FrameUnknown
		if len(payload) > 0 {
			out.Fields = append(out.Fields, Field{Label: "Payload", Raw: payload, IsRaw: true})
		}
		return
	}
	out.Type = FrameRequest // indistinguishable from response on the wire
	out.WriteAddress = u16(payload[0:2])
	out.WriteValue = u16(payload[2:4])
	out.Fields = append(out.Fields,
		Field{Label: "Address", Value: uint32(out.WriteAddress)},
		Field{Label: "Value", Value: uint32(out.WriteValue)},
	)
}

func decodeWriteMultiple(payload []byte, isRegisters bool, out *DecodedFrame) {
	if len(payload) == 4 {
		out.Type = FrameResponse
		out.StartAddress = u16(payload[0:2])
		out.Quantity = u16(payload[2:4])
		out.Fields = append(out.Fields,
			Field{Label: "Start Address", Value: uint32(out.StartAddress)},
			Field{Label: "Quantity", Value: uint32(out.Quantity)},
		)
		return
	}
	if len(payload) < 5 {
		out.Type = FrameUnknown
		if len(payload) > 0 {
			out.Fields = append(out.Fields, Field{Label: "Payload", Raw: payload, IsRaw: true})
		}
		return
	}

	out.Type = FrameRequest
	out.StartAddress = u16(payload[0:2])
	out.Quantity = u16(payload[2:4])
	byteCount := int(payload[4])
	available := payload[5:]
	out.Fields = append(out.Fields,
		Field{Label: "Start Address", Value: uint32(out.StartAddress)},
		Field{Label: "Quantity", Value: uint32(out.Quantity)},
		Field{Label: "Byte Count", Value: uint32(byteCount)},
	)
	if byteCount > len(available) {
		out.Notes = append(out.Notes, "byte count exceeds available data")
		byteCount = len(available)
	} else if byteCount < len(available) {
		out.Notes = append(out.Notes, "byte count below available data")
	}
	values := available[:byteCount]
	if isRegisters {
		for i := 0; i+2 <= len(values); i += 2 {
			v := u16(values[i : i+2])
			out.RegisterVals = append(out.RegisterVals, v)
			out.Fields = append(out.Fields, Field{Label: "Register", Value: uint32(v)})
		}
		if n := int(out.Quantity); n > 0 && n < len(out.RegisterVals) {
			out.RegisterVals = out.RegisterVals[:n]
		}
	} else if len(values) > 0 {
		out.Fields = append(out.Fields, Field{Label: "Coils", Raw: values, IsRaw: true})
	}
}
