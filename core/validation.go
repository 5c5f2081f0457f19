package core

import (
	"fmt"

	"github.com/signalsfoundry/energy-network-editor/kb"
	"github.com/signalsfoundry/energy-network-editor/model"
)

// WarningCode classifies a non-fatal model finding.
type WarningCode string

const (
	WarnCarrierMismatch        WarningCode = "carrier_mismatch"
	WarnMissingCarrier         WarningCode = "missing_carrier"
	WarnMissingPower           WarningCode = "missing_power"
	WarnMissingControlStrategy WarningCode = "missing_control_strategy"
	WarnDanglingConnection     WarningCode = "dangling_connection"
	WarnMissingGeometry        WarningCode = "missing_geometry"
)

// Warning is a ValidationWarning: reported to the user, never blocking.
type Warning struct {
	Code    WarningCode `json:"code"`
	AssetID string      `json:"asset_id,omitempty"`
	PortID  string      `json:"port_id,omitempty"`
	Message string      `json:"message"`
}

// Validate checks the model for simulation readiness. Disabled assets
// are skipped. Results are ordered by asset id, then port order.
func Validate(store *kb.KnowledgeBase) []Warning {
	var out []Warning
	reported := make(map[model.EdgeKey]struct{})

	for _, a := range store.Assets() {
		if a.State == model.StateDisabled || a.Kind.IsBuilding() {
			continue
		}

		switch a.Kind.Capability() {
		case model.CapabilityProducer, model.CapabilityConsumer, model.CapabilityConversion, model.CapabilityStorage:
			if a.Power <= 0 {
				out = append(out, Warning{
					Code:    WarnMissingPower,
					AssetID: a.ID,
					Message: fmt.Sprintf("%s %q has no power set", a.Type, a.Name),
				})
			}
		}
		switch a.Kind {
		case model.KindProducer, model.KindConversion:
			if a.ControlStrategy == "" {
				out = append(out, Warning{
					Code:    WarnMissingControlStrategy,
					AssetID: a.ID,
					Message: fmt.Sprintf("%s %q has no control strategy", a.Type, a.Name),
				})
			}
		}

		for _, p := range store.PortsOf(a.ID) {
			if p.CarrierID == "" {
				out = append(out, Warning{
					Code:    WarnMissingCarrier,
					AssetID: a.ID,
					PortID:  p.ID,
					Message: fmt.Sprintf("port %q of %q has no carrier", p.Name, a.Name),
				})
			}
			for _, qid := range p.ConnectedTo {
				q := store.GetPort(qid)
				if q == nil {
					out = append(out, Warning{
						Code:    WarnDanglingConnection,
						AssetID: a.ID,
						PortID:  p.ID,
						Message: fmt.Sprintf("port %q references unknown port %q", p.ID, qid),
					})
					continue
				}
				key := model.NewEdgeKey(p.ID, qid)
				if _, dup := reported[key]; dup {
					continue
				}
				if p.CarrierID != "" && q.CarrierID != "" && p.CarrierID != q.CarrierID {
					reported[key] = struct{}{}
					out = append(out, Warning{
						Code:    WarnCarrierMismatch,
						AssetID: a.ID,
						PortID:  p.ID,
						Message: fmt.Sprintf("port %q carries %q but connects to %q carrying %q", p.ID, p.CarrierID, qid, q.CarrierID),
					})
				}
			}
		}
	}
	return out
}
