package zcl

// Access flags
const (
	AccessRead   uint8 = 0x01
	AccessWrite  uint8 = 0x02
	AccessReport uint8 = 0x04
)

// AttributeDef defines a ZCL attribute. Manufacturer is the manufacturer
// code for vendor-specific attributes, 0 for standard ones.
type AttributeDef struct {
	ID           uint16 `json:"id"`
	Name         string `json:"name"`
	Access       uint8  `json:"access"` // bitmask: 1=read, 2=write, 4=reportable
	Manufacturer uint16 `json:"manufacturer,omitempty"`
}

// IsWritable returns true if the attribute can be written.
func (a *AttributeDef) IsWritable() bool {
	return a.Access&AccessWrite != 0
}

// ClusterDef defines a ZCL cluster with its attributes.
type ClusterDef struct {
	ID         uint16         `json:"id"`
	Name       string         `json:"name"`
	Attributes []AttributeDef `json:"attributes,omitempty"`
}

// FindAttribute looks up an attribute by ID.
func (c *ClusterDef) FindAttribute(id uint16) *AttributeDef {
	for i := range c.Attributes {
		if c.Attributes[i].ID == id {
			return &c.Attributes[i]
		}
	}
	return nil
}
