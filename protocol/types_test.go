package protocol

import "testing"

// Wire compatibility depends on these exact byte values; the radio side of
// the network is not rebuilt when this module changes.
func TestMessageTypeWireValues(t *testing.T) {
	values := map[MessageType]byte{
		SensorData:                 0x01,
		SensorBroadcastData:        0x81,
		UnencryptedData:            0x11,
		DownstreamSet:              0x02,
		DownstreamBroadcastSet:     0x82,
		DownstreamGet:              0x12,
		DownstreamBroadcastGet:     0x92,
		ControlData:                0x03,
		DownstreamControl:          0x04,
		DownstreamBroadcastControl: 0x84,
		ClockRequest:               0x05,
		ClockResponse:              0x06,
		NodeNameSet:                0x07,
		NodeNameResult:             0x17,
		BroadcastKeyRequest:        0x08,
		BroadcastKeyResponse:       0x18,
		ClientHello:                0xFF,
		ServerHello:                0xFE,
		InvalidateKey:              0xFB,
	}
	for mt, want := range values {
		if byte(mt) != want {
			t.Errorf("%s = 0x%02X, want 0x%02X", mt, byte(mt), want)
		}
	}
}

func TestInvalidateReasonWireValues(t *testing.T) {
	values := map[InvalidateReason]byte{
		ReasonUnknown:          0x00,
		ReasonWrongClientHello: 0x01,
		ReasonWrongData:        0x03,
		ReasonUnregisteredNode: 0x04,
		ReasonKeyExpired:       0x05,
		ReasonKicked:           0x06,
	}
	for r, want := range values {
		if byte(r) != want {
			t.Errorf("%s = 0x%02X, want 0x%02X", r, byte(r), want)
		}
	}
}

func TestMessageTypeClassification(t *testing.T) {
	tests := []struct {
		mt        MessageType
		broadcast bool
		control   bool
		gwOnly    bool
	}{
		{SensorData, false, false, false},
		{SensorBroadcastData, true, false, false},
		{UnencryptedData, false, false, false},
		{DownstreamSet, false, false, true},
		{DownstreamBroadcastSet, true, false, true},
		{DownstreamGet, false, false, true},
		{DownstreamBroadcastGet, true, false, true},
		{ControlData, false, true, false},
		{DownstreamControl, false, true, true},
		{DownstreamBroadcastControl, true, true, true},
		{ClockRequest, false, false, false},
		{ClockResponse, false, false, true},
		{NodeNameSet, false, false, false},
		{NodeNameResult, false, false, true},
		{BroadcastKeyRequest, false, false, false},
		{BroadcastKeyResponse, false, false, true},
		{ClientHello, false, false, false},
		{ServerHello, false, false, true},
		{InvalidateKey, false, false, true},
	}
	for _, tt := range tests {
		if got := tt.mt.IsBroadcast(); got != tt.broadcast {
			t.Errorf("%s.IsBroadcast() = %v, want %v", tt.mt, got, tt.broadcast)
		}
		if got := tt.mt.IsControl(); got != tt.control {
			t.Errorf("%s.IsControl() = %v, want %v", tt.mt, got, tt.control)
		}
		if got := tt.mt.IsGatewayOriginated(); got != tt.gwOnly {
			t.Errorf("%s.IsGatewayOriginated() = %v, want %v", tt.mt, got, tt.gwOnly)
		}
		if !tt.mt.Valid() {
			t.Errorf("%s.Valid() = false", tt.mt)
		}
	}
}

func TestMessageTypeUnknown(t *testing.T) {
	unknown := MessageType(0x7A)
	if unknown.Valid() {
		t.Error("0x7A should not be a valid message type")
	}
	if unknown.String() != "UNKNOWN" {
		t.Errorf("String() = %q, want UNKNOWN", unknown.String())
	}
}
