package model

// PortKind is the direction of a port.
type PortKind string

const (
	InPort  PortKind = "InPort"
	OutPort PortKind = "OutPort"
)

// Opposite returns the other direction.
func (k PortKind) Opposite() PortKind {
	if k == InPort {
		return OutPort
	}
	return InPort
}

// Valid reports whether k is one of the two known directions.
func (k PortKind) Valid() bool { return k == InPort || k == OutPort }

// Profile is a time-series reference attached to a port.
type Profile struct {
	ID         string  `json:"id"`
	Name       string  `json:"name,omitempty"`
	Quantity   string  `json:"quantity,omitempty"`
	Multiplier float64 `json:"multiplier,omitempty"`
}

// Port is a typed connection point on an asset. AssetID is a
// back-reference; the asset owns the port through its PortIDs.
type Port struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Kind      PortKind  `json:"type"`
	AssetID   string    `json:"assetId"`
	CarrierID string    `json:"carrier,omitempty"`
	Profiles  []Profile `json:"profiles,omitempty"`

	// ConnectedTo is maintained symmetrically by the store: if a lists b
	// then b lists a.
	ConnectedTo []string `json:"connectedTo,omitempty"`
}

// Clone returns a deep copy of the port.
func (p *Port) Clone() *Port {
	if p == nil {
		return nil
	}
	out := *p
	out.Profiles = append([]Profile(nil), p.Profiles...)
	out.ConnectedTo = append([]string(nil), p.ConnectedTo...)
	return &out
}

// Commodity classifies what a carrier transports.
type Commodity string

const (
	CommodityElectricity Commodity = "Electricity"
	CommodityHeat        Commodity = "Heat"
	CommodityGas         Commodity = "Gas"
	CommodityGeneric     Commodity = "Generic"
)

// Carrier is a shared commodity descriptor referenced by ports.
type Carrier struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Commodity Commodity `json:"commodity"`

	// Optional physical parameters; zero means unset.
	Voltage           float64 `json:"voltage,omitempty"`
	SupplyTemperature float64 `json:"supplyTemperature,omitempty"`
	ReturnTemperature float64 `json:"returnTemperature,omitempty"`
}
