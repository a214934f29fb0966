package protocol

// Frame is one received radio frame: the sender's address and the raw message
// bytes. NewFrame copies the data so a Frame stays valid after the receive
// buffer it came from is reused.
type Frame struct {
	Addr Address
	Data []byte
}

// NewFrame captures a received frame, copying data.
func NewFrame(addr Address, data []byte) Frame {
	buf := make([]byte, len(data))
	copy(buf, data)
	return Frame{Addr: addr, Data: buf}
}

// Type returns the message type byte, or 0 for an empty frame.
func (f Frame) Type() MessageType {
	if len(f.Data) == 0 {
		return 0
	}
	return MessageType(f.Data[0])
}

// Len returns the frame length in bytes.
func (f Frame) Len() int {
	return len(f.Data)
}
