package zcl

// Danfoss Ally manufacturer-specific thermostat attributes (eTRV series).
const (
	ManufacturerDanfoss uint16 = 0x1246

	AttrExternalMeasuredRoomSensor uint16 = 0x4015
	AttrRadiatorCovered            uint16 = 0x4016
	AttrLoadBalancingEnable        uint16 = 0x4032
	AttrLoadRoomMean               uint16 = 0x4040
)

// ExternalSensorDisabled is the ExternalMeasuredRoomSensor sentinel that
// tells the valve to fall back to its internal sensor.
const ExternalSensorDisabled int16 = -8000

// Endpoint the eTRV exposes its thermostat cluster on.
const DefaultEndpoint uint8 = 1
