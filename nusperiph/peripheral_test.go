package nusperiph

import (
	"testing"

	"github.com/currantlabs/ble"

	"github.com/nusuart/serial"
	"github.com/nusuart/serial/engine"
	"github.com/nusuart/serial/linkprofile"
)

func TestServiceExposesNUSCharacteristics(t *testing.T) {
	p := New()
	svc := p.Service()
	if !svc.UUID.Equal(ServiceUUID) {
		t.Fatalf("service UUID = %v, want %v", svc.UUID, ServiceUUID)
	}
	if len(svc.Characteristics) != 2 {
		t.Fatalf("expected exactly rx and tx characteristics, got %d", len(svc.Characteristics))
	}
}

func TestWrittenForwardsToEngineRxPath(t *testing.T) {
	p := New()
	lb := engine.NewLoopback()
	e, err := engine.Begin("t-nusperiph-rx", serial.DefaultConfig(), lb, engine.Observer{})
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	defer e.End()
	lb.Attach(e)
	p.Attach(e)

	p.written(fakeWriteRequest{data: []byte("hello")}, nil)

	dst := make([]byte, 5)
	n := e.Read(dst)
	if n != 5 || string(dst) != "hello" {
		t.Fatalf("Read = %q (n=%d), want %q", dst[:n], n, "hello")
	}
}

func TestNotifyReturnsQueueFullWhenOutboxSaturated(t *testing.T) {
	p := New()
	p.subscribed = true
	p.outbox <- []byte("first")

	outcome := p.Notify([]byte("second"))
	if outcome != engine.QueueFull {
		t.Fatalf("Notify with a saturated outbox = %v, want QueueFull", outcome)
	}
}

func TestNotifyReturnsHardFailureWhenNotSubscribed(t *testing.T) {
	p := New()
	if outcome := p.Notify([]byte("x")); outcome != engine.DispatchHardFailure {
		t.Fatalf("Notify before subscription = %v, want DispatchHardFailure", outcome)
	}
}

func TestAdvertisingPacketsCarryServiceIdentityAndName(t *testing.T) {
	reg := linkprofile.NewRegistry()
	profile, err := reg.Resolve(linkprofile.Balanced)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	advPkt, scanRsp, err := AdvertisingPackets("NUS-UART", 0, profile)
	if err != nil {
		t.Fatalf("AdvertisingPackets: %v", err)
	}

	found := false
	for _, u := range advPkt.UUIDs() {
		if u.Equal(ServiceUUID) {
			found = true
		}
	}
	if !found {
		t.Fatal("advertising packet must carry the NUS service UUID")
	}
	if advPkt.Field(adTypeTxPower) == nil {
		t.Fatal("advertising packet must carry a TX power level")
	}
	if got := advPkt.Field(adTypeAppearance); len(got) != 2 || got[0] != 0x40 || got[1] != 0x05 {
		t.Fatalf("appearance field = %v, want little-endian 0x0540", got)
	}
	if got := scanRsp.LocalName(); got != "NUS-UART" {
		t.Fatalf("scan response name = %q, want %q", got, "NUS-UART")
	}
	if advPkt.Len() > 31 || scanRsp.Len() > 31 {
		t.Fatalf("packets exceed the 31-byte budget: adv=%d scanrsp=%d", advPkt.Len(), scanRsp.Len())
	}
}

func TestAdvertisingPacketsShortenOverlongName(t *testing.T) {
	reg := linkprofile.NewRegistry()
	profile, _ := reg.Resolve(linkprofile.Fast)

	_, scanRsp, err := AdvertisingPackets("a-device-name-right-at-the-cap", -4, profile)
	if err != nil {
		t.Fatalf("AdvertisingPackets: %v", err)
	}
	if scanRsp.Len() > 31 {
		t.Fatalf("scan response exceeds the 31-byte budget: %d", scanRsp.Len())
	}
}

// fakeWriteRequest satisfies just enough of ble.Request for written's use.
type fakeWriteRequest struct {
	ble.Request
	data []byte
}

func (f fakeWriteRequest) Data() []byte { return f.data }
