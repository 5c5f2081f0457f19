// core/system_loader.go
package core

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/signalsfoundry/energy-network-editor/kb"
	"github.com/signalsfoundry/energy-network-editor/model"
)

// LoadSummary is a small summary of what was loaded from JSON.
type LoadSummary struct {
	SystemID    string
	Areas       int
	Assets      int
	Ports       int
	Carriers    int
	Connections int

	// Dangling lists "<port>-><target>" references whose target port did
	// not exist. They are dropped rather than failing the load.
	Dangling []string

	// SameDirection lists "<port>-><target>" references joining two
	// InPorts or two OutPorts. They are dropped as well.
	SameDirection []string
}

// internal JSON shapes – unexported so they can evolve with the editor.
type energySystemJSON struct {
	ID       string          `json:"id"`
	Name     string          `json:"name"`
	Carriers []model.Carrier `json:"carriers"`
	Area     *areaJSON       `json:"area"`
}

type areaJSON struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	Geometry   *model.Geometry `json:"geometry"`
	Areas      []areaJSON      `json:"areas"`
	Assets     []assetJSON     `json:"assets"`
	Potentials []potentialJSON `json:"potentials"`
}

type assetJSON struct {
	ID              string                 `json:"id"`
	Name            string                 `json:"name"`
	Type            string                 `json:"type"`
	State           string                 `json:"state"`
	Geometry        *model.Geometry        `json:"geometry"`
	Length          float64                `json:"length"`
	Power           float64                `json:"power"`
	ControlStrategy string                 `json:"controlStrategy"`
	Cost            *model.CostInformation `json:"costInformation"`
	Ports           []portJSON             `json:"ports"`

	// Assets holds the contents of a building.
	Assets []assetJSON `json:"assets"`
}

type portJSON struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Type        string          `json:"type"` // "InPort" | "OutPort"
	Carrier     string          `json:"carrier"`
	ConnectedTo []string        `json:"connectedTo"`
	Profiles    []model.Profile `json:"profiles"`
}

type potentialJSON struct {
	ID       string          `json:"id"`
	Name     string          `json:"name"`
	Type     string          `json:"type"`
	Geometry *model.Geometry `json:"geometry"`
}

type pendingEdge struct {
	from, to string
}

// LoadEnergySystem replaces the contents of store with the energy system
// read from r. The load is atomic: on any error the store keeps its
// previous contents. Connections listed on only one side are stored on
// both.
func LoadEnergySystem(store *kb.KnowledgeBase, r io.Reader) (*LoadSummary, error) {
	if store == nil {
		return nil, fmt.Errorf("LoadEnergySystem: store is nil")
	}

	var payload energySystemJSON
	if err := json.NewDecoder(r).Decode(&payload); err != nil {
		return nil, fmt.Errorf("LoadEnergySystem: decode failed: %w", err)
	}
	if payload.Area == nil {
		return nil, fmt.Errorf("%w: LoadEnergySystem: energy system %q has no area", ErrValidation, payload.ID)
	}

	summary := &LoadSummary{SystemID: payload.ID}
	err := store.Update(func(tx *kb.KnowledgeBase) error {
		tx.Clear()
		tx.SetSystem(model.EnergySystem{ID: payload.ID, Name: payload.Name})

		for i := range payload.Carriers {
			c := payload.Carriers[i]
			if err := tx.AddCarrier(&c); err != nil {
				return err
			}
		}

		var edges []pendingEdge
		if err := loadArea(tx, payload.Area, "", &edges); err != nil {
			return err
		}

		for _, e := range edges {
			to := tx.GetPort(e.to)
			if to == nil {
				summary.Dangling = append(summary.Dangling, e.from+"->"+e.to)
				continue
			}
			if from := tx.GetPort(e.from); from != nil && from.Kind == to.Kind {
				summary.SameDirection = append(summary.SameDirection, e.from+"->"+e.to)
				continue
			}
			if err := tx.Connect(e.from, e.to); err != nil {
				return err
			}
		}

		counts := tx.Counts()
		summary.Areas = counts.Areas
		summary.Assets = counts.Assets
		summary.Ports = counts.Ports
		summary.Carriers = counts.Carriers
		summary.Connections = counts.Edges
		return nil
	})
	if err != nil {
		return nil, err
	}
	return summary, nil
}

func loadArea(tx *kb.KnowledgeBase, a *areaJSON, parentID string, edges *[]pendingEdge) error {
	if a.ID == "" {
		return fmt.Errorf("%w: area with empty id", ErrValidation)
	}
	area := &model.Area{
		ID:       a.ID,
		Name:     a.Name,
		ParentID: parentID,
		Geometry: worldFrame(a.Geometry),
	}
	if err := tx.AddArea(area); err != nil {
		return err
	}

	for i := range a.Areas {
		if err := loadArea(tx, &a.Areas[i], a.ID, edges); err != nil {
			return err
		}
	}
	for i := range a.Assets {
		if err := loadAsset(tx, &a.Assets[i], a.ID, edges); err != nil {
			return err
		}
	}
	for _, p := range a.Potentials {
		pot := &model.Potential{
			ID:          p.ID,
			Name:        p.Name,
			Type:        p.Type,
			Geometry:    worldFrame(p.Geometry),
			ContainerID: a.ID,
		}
		if err := tx.AddPotential(pot); err != nil {
			return err
		}
	}
	return nil
}

func loadAsset(tx *kb.KnowledgeBase, a *assetJSON, containerID string, edges *[]pendingEdge) error {
	if a.ID == "" {
		return fmt.Errorf("%w: asset with empty id in %q", ErrValidation, containerID)
	}
	asset := &model.Asset{
		ID:              a.ID,
		Name:            a.Name,
		Type:            a.Type,
		Kind:            model.KindForType(a.Type),
		State:           stateFromString(a.State),
		Geometry:        worldFrame(a.Geometry),
		ContainerID:     containerID,
		Length:          a.Length,
		Power:           a.Power,
		ControlStrategy: a.ControlStrategy,
		Cost:            a.Cost,
	}
	if asset.Kind == model.KindConductor && asset.Length == 0 && asset.Geometry != nil && asset.Geometry.Kind == model.GeometryLine {
		asset.Length = PolylineLength(asset.Geometry.Points)
	}
	if len(a.Assets) > 0 && !asset.Kind.IsBuilding() {
		return fmt.Errorf("%w: %s %q cannot contain assets", ErrValidation, a.Type, a.ID)
	}
	if err := tx.AddAsset(asset); err != nil {
		return err
	}

	for _, p := range a.Ports {
		kind, err := portKindFromString(p.Type)
		if err != nil {
			return fmt.Errorf("port %q of %q: %w", p.ID, a.ID, err)
		}
		port := &model.Port{
			ID:        p.ID,
			Name:      p.Name,
			Kind:      kind,
			AssetID:   a.ID,
			CarrierID: p.Carrier,
			Profiles:  p.Profiles,
		}
		if err := tx.AddPort(port); err != nil {
			return err
		}
		for _, to := range p.ConnectedTo {
			*edges = append(*edges, pendingEdge{from: p.ID, to: to})
		}
	}

	for i := range a.Assets {
		if err := loadAsset(tx, &a.Assets[i], a.ID, edges); err != nil {
			return err
		}
	}
	return nil
}

// worldFrame defaults an unset frame to WGS84.
func worldFrame(g *model.Geometry) *model.Geometry {
	if g != nil && g.Frame == "" {
		g.Frame = model.FrameWorld
	}
	return g
}

func portKindFromString(s string) (model.PortKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "inport", "in":
		return model.InPort, nil
	case "outport", "out":
		return model.OutPort, nil
	default:
		return "", fmt.Errorf("%w: unknown port type %q", ErrValidation, s)
	}
}

func stateFromString(s string) model.AssetState {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case string(model.StateOptional):
		return model.StateOptional
	case string(model.StateDisabled):
		return model.StateDisabled
	default:
		return model.StateEnabled
	}
}
