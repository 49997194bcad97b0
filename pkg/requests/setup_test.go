package requests

import (
	"bytes"
	"testing"
)

func TestSetupPacket_RoundTrip(t *testing.T) {
	raw := []byte{0xA1, 0x81, 0x00, 0x01, 0x01, 0x00, 0x1A, 0x00}

	var sp SetupPacket
	if err := sp.UnmarshalBinary(raw); err != nil {
		t.Fatalf("UnmarshalBinary failed: %v", err)
	}
	if sp.RequestType != RequestTypeVideoInterfaceGetRequest {
		t.Errorf("RequestType = %#x, want %#x", sp.RequestType, RequestTypeVideoInterfaceGetRequest)
	}
	if RequestCode(sp.Request) != RequestCodeGetCur {
		t.Errorf("Request = %v, want GET_CUR", RequestCode(sp.Request))
	}
	if sp.Selector() != uint8(VideoStreamingControlSelectorProbeControl) {
		t.Errorf("Selector() = %d, want 1", sp.Selector())
	}
	if sp.InterfaceNumber() != 1 {
		t.Errorf("InterfaceNumber() = %d, want 1", sp.InterfaceNumber())
	}
	if sp.Length != 26 {
		t.Errorf("Length = %d, want 26", sp.Length)
	}

	out, err := sp.MarshalBinary()
	if err != nil {
		t.Fatalf("MarshalBinary failed: %v", err)
	}
	if !bytes.Equal(out, raw) {
		t.Errorf("MarshalBinary = %x, want %x", out, raw)
	}
}

func TestSetupPacket_ShortBuffer(t *testing.T) {
	var sp SetupPacket
	if err := sp.UnmarshalBinary(make([]byte, 7)); err == nil {
		t.Error("UnmarshalBinary accepted a 7 byte buffer")
	}
}

func TestRequestType_Fields(t *testing.T) {
	tests := []struct {
		rt        RequestType
		in        bool
		kind      Kind
		recipient Recipient
	}{
		{RequestTypeVideoInterfaceSetRequest, false, KindClass, RecipientInterface},
		{RequestTypeVideoInterfaceGetRequest, true, KindClass, RecipientInterface},
		{RequestTypeDataEndpointGetRequest, true, KindClass, RecipientEndpoint},
		{RequestTypeStandardDeviceIn, true, KindStandard, RecipientDevice},
		{RequestTypeStandardInterfaceOut, false, KindStandard, RecipientInterface},
	}
	for _, tt := range tests {
		if got := tt.rt.DeviceToHost(); got != tt.in {
			t.Errorf("%#x DeviceToHost() = %v, want %v", uint8(tt.rt), got, tt.in)
		}
		if got := tt.rt.Kind(); got != tt.kind {
			t.Errorf("%#x Kind() = %v, want %v", uint8(tt.rt), got, tt.kind)
		}
		if got := tt.rt.Recipient(); got != tt.recipient {
			t.Errorf("%#x Recipient() = %v, want %v", uint8(tt.rt), got, tt.recipient)
		}
	}
}

func TestNewClassRequest(t *testing.T) {
	sp := NewClassRequest(false, RequestCodeSetCur, uint8(VideoStreamingControlSelectorCommitControl), 1, 26)
	if sp.RequestType != RequestTypeVideoInterfaceSetRequest {
		t.Errorf("RequestType = %#x, want 0x21", sp.RequestType)
	}
	if sp.Value != 0x0200 {
		t.Errorf("Value = %#04x, want 0x0200", sp.Value)
	}
	if sp.Index != 1 {
		t.Errorf("Index = %d, want 1", sp.Index)
	}
}
