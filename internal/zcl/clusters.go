package zcl

// Cluster IDs used by the manager.
const (
	ClusterBasic       uint16 = 0x0000
	ClusterPowerConfig uint16 = 0x0001
	ClusterTime        uint16 = 0x000A
	ClusterThermostat  uint16 = 0x0201
	ClusterTemperature uint16 = 0x0402
	ClusterHumidity    uint16 = 0x0405
)

// Standard attribute IDs.
const (
	AttrTimeUTC uint16 = 0x0000 // Time cluster, seconds since 2000-01-01T00:00:00Z
)

var Basic = ClusterDef{
	ID:   ClusterBasic,
	Name: "Basic",
	Attributes: []AttributeDef{
		{ID: 0x0004, Name: "ManufacturerName", Access: AccessRead},
		{ID: 0x0005, Name: "ModelIdentifier", Access: AccessRead},
	},
}

var PowerConfiguration = ClusterDef{
	ID:   ClusterPowerConfig,
	Name: "PowerConfiguration",
	Attributes: []AttributeDef{
		{ID: 0x0020, Name: "BatteryVoltage", Access: AccessRead | AccessReport},
		{ID: 0x0021, Name: "BatteryPercentageRemaining", Access: AccessRead | AccessReport},
	},
}

var Time = ClusterDef{
	ID:   ClusterTime,
	Name: "Time",
	Attributes: []AttributeDef{
		{ID: AttrTimeUTC, Name: "Time", Access: AccessRead | AccessWrite},
		{ID: 0x0001, Name: "TimeStatus", Access: AccessRead | AccessWrite},
		{ID: 0x0002, Name: "TimeZone", Access: AccessRead | AccessWrite},
	},
}

var Thermostat = ClusterDef{
	ID:   ClusterThermostat,
	Name: "Thermostat",
	Attributes: []AttributeDef{
		{ID: 0x0000, Name: "LocalTemperature", Access: AccessRead | AccessReport},
		{ID: 0x0012, Name: "OccupiedHeatingSetpoint", Access: AccessRead | AccessWrite},
		{ID: 0x001C, Name: "SystemMode", Access: AccessRead | AccessWrite},
		{ID: AttrExternalMeasuredRoomSensor, Name: "ExternalMeasuredRoomSensor", Access: AccessRead | AccessWrite, Manufacturer: ManufacturerDanfoss},
		{ID: AttrRadiatorCovered, Name: "RadiatorCovered", Access: AccessRead | AccessWrite, Manufacturer: ManufacturerDanfoss},
		{ID: AttrLoadBalancingEnable, Name: "LoadBalancingEnable", Access: AccessRead | AccessWrite, Manufacturer: ManufacturerDanfoss},
		{ID: AttrLoadRoomMean, Name: "LoadRoomMean", Access: AccessRead | AccessWrite, Manufacturer: ManufacturerDanfoss},
	},
}

var TemperatureMeasurement = ClusterDef{
	ID:   ClusterTemperature,
	Name: "TemperatureMeasurement",
	Attributes: []AttributeDef{
		{ID: 0x0000, Name: "MeasuredValue", Access: AccessRead | AccessReport},
	},
}

var RelativeHumidity = ClusterDef{
	ID:   ClusterHumidity,
	Name: "RelativeHumidity",
	Attributes: []AttributeDef{
		{ID: 0x0000, Name: "MeasuredValue", Access: AccessRead | AccessReport},
	},
}

// RegisterStandard loads all cluster definitions the manager touches.
func RegisterStandard(r *Registry) {
	r.Register(Basic)
	r.Register(PowerConfiguration)
	r.Register(Time)
	r.Register(Thermostat)
	r.Register(TemperatureMeasurement)
	r.Register(RelativeHumidity)
}
