package model

import "strings"

// AssetKind is the closed set of asset variants the topology engine
// distinguishes. It is resolved once from the concrete type name when an
// asset enters the store, so traversal code switches on it instead of
// inspecting type names.
type AssetKind int

const (
	KindUnknown AssetKind = iota
	KindProducer
	KindConsumer
	KindStorage
	KindConversion
	KindConductor // line-geometry transport with exactly two ports (pipe, cable)
	KindTransport // point transport (bus, valve, pump)
	KindExchange  // transport boundary (heat exchanger, transformer)
	KindJoint
	KindBuilding
	KindAggregatedBuilding
)

var kindNames = map[AssetKind]string{
	KindUnknown:            "Unknown",
	KindProducer:           "Producer",
	KindConsumer:           "Consumer",
	KindStorage:            "Storage",
	KindConversion:         "Conversion",
	KindConductor:          "Conductor",
	KindTransport:          "Transport",
	KindExchange:           "Exchange",
	KindJoint:              "Joint",
	KindBuilding:           "Building",
	KindAggregatedBuilding: "AggregatedBuilding",
}

func (k AssetKind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "Unknown"
}

// Capability is the functional role of an asset.
type Capability string

const (
	CapabilityNone       Capability = ""
	CapabilityProducer   Capability = "Producer"
	CapabilityConsumer   Capability = "Consumer"
	CapabilityStorage    Capability = "Storage"
	CapabilityTransport  Capability = "Transport"
	CapabilityConversion Capability = "Conversion"
)

// Capability derives the functional role from the kind.
func (k AssetKind) Capability() Capability {
	switch k {
	case KindProducer:
		return CapabilityProducer
	case KindConsumer:
		return CapabilityConsumer
	case KindStorage:
		return CapabilityStorage
	case KindConversion:
		return CapabilityConversion
	case KindConductor, KindTransport, KindExchange, KindJoint:
		return CapabilityTransport
	default:
		return CapabilityNone
	}
}

// IsTransport reports whether the kind has the Transport capability.
func (k AssetKind) IsTransport() bool { return k.Capability() == CapabilityTransport }

// IsBuilding reports whether the kind is an AbstractBuilding container.
func (k AssetKind) IsBuilding() bool { return k == KindBuilding || k == KindAggregatedBuilding }

// typeKinds maps ESDL-style class names to their kind. Lookups are
// case-insensitive.
var typeKinds = map[string]AssetKind{
	"pvinstallation":        KindProducer,
	"pvpark":                KindProducer,
	"windturbine":           KindProducer,
	"windpark":              KindProducer,
	"gasproducer":           KindProducer,
	"heatproducer":          KindProducer,
	"genericproducer":       KindProducer,
	"residualheatsource":    KindProducer,
	"geothermalsource":      KindProducer,
	"electricityproducer":   KindProducer,
	"electricitydemand":     KindConsumer,
	"heatingdemand":         KindConsumer,
	"gasdemand":             KindConsumer,
	"coolingdemand":         KindConsumer,
	"genericconsumer":       KindConsumer,
	"battery":               KindStorage,
	"heatstorage":           KindStorage,
	"gasstorage":            KindStorage,
	"genericstorage":        KindStorage,
	"heatpump":              KindConversion,
	"gasheater":             KindConversion,
	"chp":                   KindConversion,
	"powerplant":            KindConversion,
	"electrolyzer":          KindConversion,
	"fuelcell":              KindConversion,
	"genericconversion":     KindConversion,
	"pipe":                  KindConductor,
	"electricitycable":      KindConductor,
	"bus":                   KindTransport,
	"valve":                 KindTransport,
	"checkvalve":            KindTransport,
	"pump":                  KindTransport,
	"pressurereducingvalve": KindTransport,
	"genericconductor":      KindTransport,
	"heatexchange":          KindExchange,
	"transformer":           KindExchange,
	"joint":                 KindJoint,
	"building":              KindBuilding,
	"aggregatedbuilding":    KindAggregatedBuilding,
}

// KindForType resolves a concrete type name such as "Pipe" or "HeatPump".
func KindForType(typeName string) AssetKind {
	if k, ok := typeKinds[strings.ToLower(strings.TrimSpace(typeName))]; ok {
		return k
	}
	return KindUnknown
}

// AssetState mirrors the enabled/optional/disabled switch on an asset.
type AssetState string

const (
	StateEnabled  AssetState = "ENABLED"
	StateOptional AssetState = "OPTIONAL"
	StateDisabled AssetState = "DISABLED"
)

// CostInformation carries the optional cost attributes of an asset.
type CostInformation struct {
	InvestmentCosts   float64 `json:"investmentCosts,omitempty"`
	InstallationCosts float64 `json:"installationCosts,omitempty"`
	FixedOMCosts      float64 `json:"fixedOperationalAndMaintenanceCosts,omitempty"`
}

// Asset is a typed node in the energy network. Buildings are assets as
// well and additionally own ChildIDs.
type Asset struct {
	ID       string     `json:"id"`
	Name     string     `json:"name"`
	Type     string     `json:"type"`
	Kind     AssetKind  `json:"-"`
	State    AssetState `json:"state,omitempty"`
	Geometry *Geometry  `json:"geometry,omitempty"`

	// PortIDs is ordered: for conductors index 0 sits at the first
	// polyline point and index 1 at the last.
	PortIDs []string `json:"ports,omitempty"`

	// ContainerID is the owning Area or building.
	ContainerID string `json:"containerId,omitempty"`

	// ChildIDs lists contained assets (buildings only).
	ChildIDs []string `json:"childIds,omitempty"`

	Length          float64          `json:"length,omitempty"`
	Power           float64          `json:"power,omitempty"`
	ControlStrategy string           `json:"controlStrategy,omitempty"`
	Cost            *CostInformation `json:"costInformation,omitempty"`
}

// Capability returns the functional role of the asset.
func (a *Asset) Capability() Capability {
	if a == nil {
		return CapabilityNone
	}
	return a.Kind.Capability()
}

// Clone returns a deep copy of the asset.
func (a *Asset) Clone() *Asset {
	if a == nil {
		return nil
	}
	out := *a
	out.Geometry = a.Geometry.Clone()
	out.PortIDs = append([]string(nil), a.PortIDs...)
	out.ChildIDs = append([]string(nil), a.ChildIDs...)
	if a.Cost != nil {
		c := *a.Cost
		out.Cost = &c
	}
	return &out
}

// Potential is a non-asset spatial marker placed in an Area.
type Potential struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Type        string    `json:"type"`
	Geometry    *Geometry `json:"geometry,omitempty"`
	ContainerID string    `json:"containerId,omitempty"`
}

// Clone returns a deep copy of the potential.
func (p *Potential) Clone() *Potential {
	if p == nil {
		return nil
	}
	out := *p
	out.Geometry = p.Geometry.Clone()
	return &out
}
