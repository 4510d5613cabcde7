package nusperiph

import (
	"encoding/binary"

	"github.com/currantlabs/ble/linux/adv"

	"github.com/nusuart/serial/linkprofile"
)

// Appearance is the GAP appearance value advertised for the transport:
// 0x0540, Generic Sensor.
const Appearance uint16 = 0x0540

// AD structure types the adv package has no typed Field constructor for.
const (
	adTypeTxPower      = 0x0A
	adTypeSlaveConnInt = 0x12
	adTypeAppearance   = 0x19
)

// AdvertisingPackets builds the advertising PDU and scan response for the
// transport: flags, the NUS service UUID, appearance and TX power level in
// the advertising packet; the device name and the active mode's connection
// interval preference in the scan response. The 128-bit service UUID eats
// most of the 31-byte advertising budget, so the name rides in the scan
// response the way most NUS firmwares lay it out.
func AdvertisingPackets(deviceName string, txPowerDBm int8, profile linkprofile.Profile) (advPkt, scanRsp *adv.Packet, err error) {
	advPkt, err = adv.NewPacket(
		adv.Flags(adv.FlagGeneralDiscoverable|adv.FlagLEOnly),
		adv.AllUUID(ServiceUUID),
		adv.Raw(appearanceField(Appearance)),
		adv.Raw(txPowerField(txPowerDBm)),
	)
	if err != nil {
		return nil, nil, err
	}

	scanRsp, err = adv.NewPacket(
		adv.Raw(connIntervalField(profile.ConnParams)),
		adv.CompleteName(deviceName),
	)
	if err == adv.ErrNotFit {
		// Name too long alongside the interval preference; shorten it.
		room := adv.MaxEIRPacketLength - len(connIntervalField(profile.ConnParams)) - 2
		scanRsp, err = adv.NewPacket(
			adv.Raw(connIntervalField(profile.ConnParams)),
			adv.ShortName(deviceName[:room]),
		)
	}
	if err != nil {
		return nil, nil, err
	}
	return advPkt, scanRsp, nil
}

func appearanceField(v uint16) []byte {
	b := []byte{3, adTypeAppearance, 0, 0}
	binary.LittleEndian.PutUint16(b[2:], v)
	return b
}

func txPowerField(dbm int8) []byte {
	return []byte{2, adTypeTxPower, byte(dbm)}
}

// connIntervalField encodes the Slave Connection Interval Range AD
// structure from a profile's negotiation targets (already in 1.25ms
// units, the unit the AD structure uses too).
func connIntervalField(p linkprofile.ConnParams) []byte {
	b := []byte{5, adTypeSlaveConnInt, 0, 0, 0, 0}
	binary.LittleEndian.PutUint16(b[2:], p.MinIntervalUnits)
	binary.LittleEndian.PutUint16(b[4:], p.MaxIntervalUnits)
	return b
}
