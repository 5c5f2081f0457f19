// core/topology.go
package core

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/signalsfoundry/energy-network-editor/internal/logging"
	"github.com/signalsfoundry/energy-network-editor/kb"
	"github.com/signalsfoundry/energy-network-editor/model"
)

// SplitMode selects what happens at the split point of a conductor.
type SplitMode string

const (
	SplitConnect   SplitMode = "connect"
	SplitAddJoint  SplitMode = "add_joint"
	SplitNoConnect SplitMode = "no_connect"
)

// ParseSplitMode accepts both the snake_case wire names and the
// camelCase spellings used by older clients.
func ParseSplitMode(s string) (SplitMode, error) {
	switch strings.ToLower(strings.ReplaceAll(strings.TrimSpace(s), "_", "")) {
	case "connect":
		return SplitConnect, nil
	case "addjoint":
		return SplitAddJoint, nil
	case "noconnect":
		return SplitNoConnect, nil
	default:
		return "", fmt.Errorf("%w: unknown split mode %q", ErrValidation, s)
	}
}

// SplitRequest parameterises SplitConductor.
type SplitRequest struct {
	ConductorID string
	Location    model.Coord
	Mode        SplitMode

	// ContainerID receives the new assets; empty keeps the conductor's
	// own container.
	ContainerID string
}

// IDGenerator returns a fresh globally unique object id.
type IDGenerator func() string

// Mutator applies structural edits to a model store. Every operation
// runs inside a single kb.Update so a failure part-way leaves the store
// untouched.
type Mutator struct {
	KB         *kb.KnowledgeBase
	Propagator *CarrierPropagator

	newID IDGenerator
	log   logging.Logger
}

// MutatorOption configures optional Mutator dependencies.
type MutatorOption func(*Mutator)

// WithIDGenerator overrides the uuid-based id source.
func WithIDGenerator(gen IDGenerator) MutatorOption {
	return func(m *Mutator) {
		if gen != nil {
			m.newID = gen
		}
	}
}

// WithMutatorLogger sets the logger used for non-fatal findings.
func WithMutatorLogger(log logging.Logger) MutatorOption {
	return func(m *Mutator) {
		if log != nil {
			m.log = log
		}
	}
}

// NewMutator wires a Mutator to its store.
func NewMutator(store *kb.KnowledgeBase, opts ...MutatorOption) *Mutator {
	m := &Mutator{
		KB:    store,
		newID: uuid.NewString,
		log:   logging.Noop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.Propagator = NewCarrierPropagator(m.log)
	return m
}

//
// ---------- Connect ----------
//

// ConnectPorts links an InPort to an OutPort. Connecting two ports of
// the same direction fails with ErrTypeMismatch and changes nothing.
func (m *Mutator) ConnectPorts(ctx context.Context, port1, port2 string) (*ChangeSet, error) {
	cs := &ChangeSet{}
	err := m.KB.Update(func(tx *kb.KnowledgeBase) error {
		return m.connectLocked(ctx, tx, port1, port2, cs)
	})
	if err != nil {
		return nil, err
	}
	return cs, nil
}

// connectLocked performs the connect against an open transaction.
func (m *Mutator) connectLocked(ctx context.Context, tx *kb.KnowledgeBase, id1, id2 string, cs *ChangeSet) error {
	p1 := tx.GetPort(id1)
	if p1 == nil {
		return fmt.Errorf("%w: port %q", ErrNotFound, id1)
	}
	p2 := tx.GetPort(id2)
	if p2 == nil {
		return fmt.Errorf("%w: port %q", ErrNotFound, id2)
	}
	if p1.Kind == p2.Kind {
		return fmt.Errorf("%w: cannot connect %s %q to %s %q", ErrTypeMismatch, p1.Kind, id1, p2.Kind, id2)
	}
	if p1.AssetID == p2.AssetID {
		return fmt.Errorf("%w: ports %q and %q belong to the same asset", ErrValidation, id1, id2)
	}
	if err := tx.Connect(id1, id2); err != nil {
		return err
	}
	cs.addEdge(id1, id2)
	cs.updateAsset(p1.AssetID, p2.AssetID)

	switch {
	case p1.CarrierID != "" && p2.CarrierID == "":
		return m.adoptCarrierLocked(tx, p2, p1.CarrierID, cs)
	case p2.CarrierID != "" && p1.CarrierID == "":
		return m.adoptCarrierLocked(tx, p1, p2.CarrierID, cs)
	case p1.CarrierID != "" && p1.CarrierID != p2.CarrierID:
		w := Warning{
			Code:    WarnCarrierMismatch,
			AssetID: p1.AssetID,
			PortID:  p1.ID,
			Message: fmt.Sprintf("port %q carries %q but is connected to port %q carrying %q", p1.ID, p1.CarrierID, p2.ID, p2.CarrierID),
		}
		cs.Warnings = append(cs.Warnings, w)
		m.log.Warn(ctx, "carrier mismatch on connect",
			logging.String("port_a", p1.ID),
			logging.String("port_b", p2.ID),
		)
	}
	return nil
}

// adoptCarrierLocked gives the carrier-less side of a new edge the other
// side's carrier. Joints are carrier-uniform, so all of a joint's ports
// follow.
func (m *Mutator) adoptCarrierLocked(tx *kb.KnowledgeBase, p *model.Port, carrierID string, cs *ChangeSet) error {
	owner := tx.GetAsset(p.AssetID)
	if owner != nil && owner.Kind == model.KindJoint {
		for _, jp := range tx.PortsOf(owner.ID) {
			if err := tx.SetPortCarrier(jp.ID, carrierID); err != nil {
				return err
			}
		}
		cs.updateAsset(owner.ID)
		return nil
	}
	return tx.SetPortCarrier(p.ID, carrierID)
}

//
// ---------- Split ----------
//

// autoNamePattern matches names generated as <Type>_<hex>.
var autoNamePattern = regexp.MustCompile(`^[A-Za-z]+_[0-9a-fA-F]{4,}$`)

// SplitConductor cuts a line conductor at the point nearest to
// req.Location into two conductors. The original end ports move to the
// clones: the first port to the first clone, the second port to the
// second clone. Each clone gets one new port at the split point whose
// direction is the opposite of the original port it sits across from.
func (m *Mutator) SplitConductor(ctx context.Context, req SplitRequest) (*ChangeSet, error) {
	mode := req.Mode
	if mode == "" {
		mode = SplitConnect
	}
	cs := &ChangeSet{}
	err := m.KB.Update(func(tx *kb.KnowledgeBase) error {
		return m.splitLocked(ctx, tx, req, mode, cs)
	})
	if err != nil {
		return nil, err
	}
	return cs, nil
}

func (m *Mutator) splitLocked(ctx context.Context, tx *kb.KnowledgeBase, req SplitRequest, mode SplitMode, cs *ChangeSet) error {
	orig := tx.GetAsset(req.ConductorID)
	if orig == nil {
		return fmt.Errorf("%w: conductor %q", ErrNotFound, req.ConductorID)
	}
	if orig.Geometry == nil || orig.Geometry.Kind != model.GeometryLine || len(orig.Geometry.Points) < 2 {
		return fmt.Errorf("%w: asset %q is not a polyline with at least two points", ErrUnsupportedGeometry, orig.ID)
	}
	ports := tx.PortsOf(orig.ID)
	if len(ports) != 2 {
		return fmt.Errorf("%w: conductor %q has %d ports, want 2", ErrUnsupportedGeometry, orig.ID, len(ports))
	}
	line1, line2, ok := SplitPolyline(orig.Geometry.Points, req.Location)
	if !ok {
		return fmt.Errorf("%w: split point of %q coincides with a conductor end", ErrUnsupportedGeometry, orig.ID)
	}

	container := req.ContainerID
	if container == "" {
		container = orig.ContainerID
	}
	len1, len2 := splitLengths(orig.Length, line1, line2)
	p1, p2 := ports[0], ports[1]

	first := m.cloneConductor(orig, container, line1, len1, "a")
	second := m.cloneConductor(orig, container, line2, len2, "b")
	if err := tx.AddAsset(first); err != nil {
		return err
	}
	if err := tx.AddAsset(second); err != nil {
		return err
	}

	// First clone: [p1, n1]. Second clone: [n2, p2].
	if err := tx.MovePort(p1.ID, first.ID); err != nil {
		return err
	}
	n1 := m.newPort(first.ID, p1)
	if err := tx.AddPort(n1); err != nil {
		return err
	}
	n2 := m.newPort(second.ID, p2)
	if err := tx.AddPort(n2); err != nil {
		return err
	}
	if err := tx.MovePort(p2.ID, second.ID); err != nil {
		return err
	}

	if err := tx.RemoveAsset(orig.ID, false); err != nil {
		return err
	}
	cs.removeAsset(orig.ID)
	cs.addAsset(first.ID)
	cs.addAsset(second.ID)
	cs.reassign(p1.ID, first.ID)
	cs.reassign(p2.ID, second.ID)

	switch mode {
	case SplitConnect:
		if err := m.connectLocked(ctx, tx, n1.ID, n2.ID, cs); err != nil {
			return err
		}
	case SplitAddJoint:
		split := line2[0]
		if err := m.addJointLocked(ctx, tx, container, split, orig, []*model.Port{n1, n2}, cs); err != nil {
			return err
		}
	case SplitNoConnect:
	default:
		return fmt.Errorf("%w: unknown split mode %q", ErrValidation, mode)
	}

	m.log.Debug(ctx, "conductor split",
		logging.String("conductor_id", orig.ID),
		logging.String("first_id", first.ID),
		logging.String("second_id", second.ID),
		logging.String("mode", string(mode)),
	)
	return nil
}

// splitLengths scales the original length by each part's share of the
// geometric length so the parts always sum to the original. Without a
// recorded length the great-circle lengths are used directly.
func splitLengths(original float64, line1, line2 []model.Coord) (float64, float64) {
	g1 := PolylineLength(line1)
	g2 := PolylineLength(line2)
	total := g1 + g2
	if original <= 0 || total <= 0 {
		return g1, g2
	}
	l1 := original * g1 / total
	return l1, original - l1
}

func (m *Mutator) cloneConductor(orig *model.Asset, container string, line []model.Coord, length float64, suffix string) *model.Asset {
	c := orig.Clone()
	c.ID = m.newID()
	c.Name = splitName(orig, c.ID, suffix)
	c.ContainerID = container
	c.Geometry = &model.Geometry{Kind: model.GeometryLine, Points: line, Frame: orig.Geometry.Frame}
	c.Length = length
	return c
}

// splitName derives a clone name: <name>_a / <name>_b, or a fresh
// <Type>_<shortid> when the original name was itself generated.
func splitName(orig *model.Asset, newID, suffix string) string {
	base := strings.TrimSpace(orig.Name)
	if base == "" || autoNamePattern.MatchString(base) {
		typ := orig.Type
		if typ == "" {
			typ = orig.Kind.String()
		}
		return typ + "_" + shortID(newID)
	}
	return base + "_" + suffix
}

func shortID(id string) string {
	id = strings.ReplaceAll(id, "-", "")
	if len(id) > 4 {
		return id[:4]
	}
	return id
}

// newPort creates the split-point port facing the original port across
// the clone: opposite direction, same carrier.
func (m *Mutator) newPort(assetID string, across *model.Port) *model.Port {
	kind := across.Kind.Opposite()
	return &model.Port{
		ID:        m.newID(),
		Name:      string(kind),
		Kind:      kind,
		AssetID:   assetID,
		CarrierID: across.CarrierID,
	}
}

// addJointLocked places a joint at the split point and connects every
// given port to the joint port of the opposite direction.
func (m *Mutator) addJointLocked(ctx context.Context, tx *kb.KnowledgeBase, container string, at model.Coord, orig *model.Asset, ports []*model.Port, cs *ChangeSet) error {
	geom := model.NewPoint(at)
	if orig.Geometry != nil && orig.Geometry.Frame != "" {
		geom.Frame = orig.Geometry.Frame
	}
	joint := &model.Asset{
		ID:          m.newID(),
		Type:        "Joint",
		Kind:        model.KindJoint,
		Geometry:    geom,
		ContainerID: container,
	}
	joint.Name = "Joint_" + shortID(joint.ID)
	if err := tx.AddAsset(joint); err != nil {
		return err
	}
	in := &model.Port{ID: m.newID(), Name: "In", Kind: model.InPort, AssetID: joint.ID}
	out := &model.Port{ID: m.newID(), Name: "Out", Kind: model.OutPort, AssetID: joint.ID}
	if err := tx.AddPort(in); err != nil {
		return err
	}
	if err := tx.AddPort(out); err != nil {
		return err
	}
	cs.addAsset(joint.ID)

	for _, p := range ports {
		target := in
		if p.Kind == model.InPort {
			target = out
		}
		if err := m.connectLocked(ctx, tx, p.ID, target.ID, cs); err != nil {
			return err
		}
	}
	return nil
}

//
// ---------- Removal ----------
//

// RemovePort deletes a port and every edge touching it. Neighbouring
// ports lose their reference to it in the same commit.
func (m *Mutator) RemovePort(ctx context.Context, portID string) (*ChangeSet, error) {
	cs := &ChangeSet{}
	err := m.KB.Update(func(tx *kb.KnowledgeBase) error {
		p := tx.GetPort(portID)
		if p == nil {
			return fmt.Errorf("%w: port %q", ErrNotFound, portID)
		}
		cs.updateAsset(p.AssetID)
		for _, other := range tx.Neighbours(portID) {
			cs.removeEdge(portID, other)
			if owner := tx.OwnerOf(other); owner != nil {
				cs.updateAsset(owner.ID)
			}
		}
		return tx.RemovePort(portID)
	})
	if err != nil {
		return nil, err
	}
	m.log.Debug(ctx, "port removed", logging.String("port_id", portID))
	return cs, nil
}

// RemoveConnection deletes the edge between two ports. The argument
// order does not matter.
func (m *Mutator) RemoveConnection(ctx context.Context, fromPortID, toPortID string) (*ChangeSet, error) {
	cs := &ChangeSet{}
	err := m.KB.Update(func(tx *kb.KnowledgeBase) error {
		if err := tx.Disconnect(fromPortID, toPortID); err != nil {
			return err
		}
		cs.removeEdge(fromPortID, toPortID)
		if owner := tx.OwnerOf(fromPortID); owner != nil {
			cs.updateAsset(owner.ID)
		}
		if owner := tx.OwnerOf(toPortID); owner != nil {
			cs.updateAsset(owner.ID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	m.log.Debug(ctx, "connection removed",
		logging.String("from_port_id", fromPortID),
		logging.String("to_port_id", toPortID),
	)
	return cs, nil
}

//
// ---------- Carriers ----------
//

// SetCarrier assigns carrierID starting at assetID and propagates it
// through the connected transport network. The asset must be a transport
// asset or have exactly one port.
func (m *Mutator) SetCarrier(ctx context.Context, assetID, carrierID string) (*ChangeSet, error) {
	cs := &ChangeSet{}
	err := m.KB.Update(func(tx *kb.KnowledgeBase) error {
		asset := tx.GetAsset(assetID)
		if asset == nil {
			return fmt.Errorf("%w: asset %q", ErrNotFound, assetID)
		}
		if tx.GetCarrier(carrierID) == nil {
			return fmt.Errorf("%w: carrier %q", ErrNotFound, carrierID)
		}
		if !asset.Kind.IsTransport() && len(asset.PortIDs) != 1 {
			return fmt.Errorf("%w: carrier can only be set on a transport asset or an asset with one port, %q has %d ports",
				ErrValidation, assetID, len(asset.PortIDs))
		}
		touched, err := m.Propagator.Propagate(ctx, tx, assetID, carrierID)
		if err != nil {
			return err
		}
		cs.updateAsset(touched...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return cs, nil
}
