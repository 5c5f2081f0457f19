package nbi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"go.opentelemetry.io/otel/codes"

	"github.com/signalsfoundry/energy-network-editor/core"
	"github.com/signalsfoundry/energy-network-editor/internal/editor/state"
	"github.com/signalsfoundry/energy-network-editor/internal/emitter"
	"github.com/signalsfoundry/energy-network-editor/internal/journal"
	"github.com/signalsfoundry/energy-network-editor/internal/logging"
	"github.com/signalsfoundry/energy-network-editor/internal/projection"
	"github.com/signalsfoundry/energy-network-editor/kb"
	"github.com/signalsfoundry/energy-network-editor/model"
)

// Command names accepted by the Dispatcher.
const (
	CmdLoad                   = "load_esdl"
	CmdConnectPorts           = "connect_ports"
	CmdSplitConductor         = "split_conductor"
	CmdRemovePort             = "remove_port"
	CmdRemoveConnection       = "remove_connection"
	CmdRemoveConnectionByPort = "remove_connection_portids"
	CmdSetCarrier             = "set_carrier"
	CmdBuildingEditor         = "building_editor"
	CmdRefresh                = "refresh_esdl"
	CmdRedrawConnections      = "redraw_connections"
	CmdValidate               = "validate"
	CmdGetProjection          = "get_projection"
)

// CommandJournal records executed commands.
type CommandJournal interface {
	Append(ctx context.Context, e journal.Entry) error
}

// CommandMetrics observes command outcomes.
type CommandMetrics interface {
	ObserveCommand(cmd string, err error, d time.Duration)
}

// DeltaMetrics observes the size of incremental projection updates.
type DeltaMetrics interface {
	ObserveDelta(records int)
}

// Dispatcher executes {cmd, ...params} commands against the models of a
// registry and pushes the resulting events.
type Dispatcher struct {
	registry *state.Registry
	emitter  emitter.Emitter
	journal  CommandJournal
	metrics  CommandMetrics
	deltas   DeltaMetrics
	log      logging.Logger

	handlers map[string]handlerFunc
}

type handlerFunc func(ctx context.Context, c *command) (map[string]any, error)

// command is one decoded request.
type command struct {
	name    string
	modelID string
	version *uint64
	params  Params
	// resulting model version, for the journal
	applied uint64
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithJournal records every command in j.
func WithJournal(j CommandJournal) DispatcherOption {
	return func(d *Dispatcher) { d.journal = j }
}

// WithCommandMetrics reports command counts and latencies to m.
func WithCommandMetrics(m CommandMetrics) DispatcherOption {
	return func(d *Dispatcher) { d.metrics = m }
}

// WithDeltaMetrics reports delta sizes to m.
func WithDeltaMetrics(m DeltaMetrics) DispatcherOption {
	return func(d *Dispatcher) { d.deltas = m }
}

// WithDispatcherLogger sets the logger.
func WithDispatcherLogger(log logging.Logger) DispatcherOption {
	return func(d *Dispatcher) { d.log = logging.OrNoop(log) }
}

// NewDispatcher wires a dispatcher. emit may be nil, in which case
// events are discarded.
func NewDispatcher(registry *state.Registry, emit emitter.Emitter, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		registry: registry,
		emitter:  emit,
		log:      logging.Noop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.handlers = map[string]handlerFunc{
		CmdLoad:                   d.load,
		CmdConnectPorts:           d.connectPorts,
		CmdSplitConductor:         d.splitConductor,
		CmdRemovePort:             d.removePort,
		CmdRemoveConnection:       d.removeConnection,
		CmdRemoveConnectionByPort: d.removeConnectionByPort,
		CmdSetCarrier:             d.setCarrier,
		CmdBuildingEditor:         d.buildingEditor,
		CmdRefresh:                d.refresh,
		CmdRedrawConnections:      d.redrawConnections,
		CmdValidate:               d.validate,
		CmdGetProjection:          d.getProjection,
	}
	return d
}

// Commands lists the accepted command names.
func (d *Dispatcher) Commands() []string {
	names := make([]string, 0, len(d.handlers))
	for name := range d.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Execute runs one command. Failures are returned and also pushed to the
// model's clients as an error alert.
func (d *Dispatcher) Execute(ctx context.Context, raw map[string]any) (map[string]any, error) {
	start := time.Now()
	params := Params(raw)

	name, err := params.Cmd()
	if err != nil {
		return nil, err
	}
	handler, ok := d.handlers[name]
	if !ok {
		err := fmt.Errorf("%w: %q", ErrUnknownCommand, name)
		d.observe(name, err, start)
		return nil, err
	}
	c := &command{name: name, params: params}
	if c.modelID, err = params.String("modelId"); err != nil {
		d.observe(name, err, start)
		return nil, err
	}
	if c.version, err = params.OptUint64("version"); err != nil {
		d.observe(name, err, start)
		return nil, err
	}

	ctx, span := startCommandSpan(ctx, name, c.modelID)
	defer span.End()

	log := logging.LoggerFromContext(ctx, d.log).With(
		logging.Command(name),
		logging.ModelID(c.modelID),
	)

	result, err := handler(ctx, c)
	d.observe(name, err, start)
	d.record(ctx, c, err)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		log.Warn(ctx, "command failed", logging.Err(err))
		d.emit(ctx, emitter.AlertEvent(c.modelID, c.applied, emitter.Alert{
			Level:   emitter.LevelError,
			Kind:    AlertKind(err),
			Message: err.Error(),
		}))
		return nil, err
	}

	if result == nil {
		result = map[string]any{}
	}
	result["cmd"] = name
	result["modelId"] = c.modelID
	result["version"] = c.applied
	span.SetAttributes(attrVersion.Int64(int64(c.applied)))
	log.Debug(ctx, "command executed", logging.Version(c.applied))
	return result, nil
}

func (d *Dispatcher) observe(name string, err error, start time.Time) {
	if d.metrics != nil {
		d.metrics.ObserveCommand(name, err, time.Since(start))
	}
}

func (d *Dispatcher) record(ctx context.Context, c *command, err error) {
	if d.journal == nil {
		return
	}
	e := journal.Entry{
		ModelID:   c.modelID,
		Version:   c.applied,
		Command:   c.name,
		Params:    c.params.journalJSON(),
		Outcome:   journal.OutcomeOK,
		RequestID: logging.RequestIDFromContext(ctx),
	}
	if err != nil {
		e.Outcome = journal.OutcomeError
		e.Error = err.Error()
	}
	if jerr := d.journal.Append(ctx, e); jerr != nil {
		d.log.Error(ctx, "journal append failed", logging.Err(jerr), logging.Command(c.name))
	}
}

func (d *Dispatcher) emit(ctx context.Context, events ...emitter.Event) {
	if d.emitter == nil || len(events) == 0 {
		return
	}
	d.emitter.Emit(ctx, events...)
}

func (d *Dispatcher) model(c *command) (*state.ModelState, error) {
	m, err := d.registry.Get(c.modelID)
	if err != nil {
		return nil, err
	}
	c.applied = m.Version()
	return m, nil
}

//
// ---------- Mutations ----------
//

// mutate applies fn to the model and pushes the resulting delta together
// with any non-fatal warnings.
func (d *Dispatcher) mutate(ctx context.Context, c *command, fn func(m *core.Mutator) (*core.ChangeSet, error)) (state.Result, error) {
	m, err := d.model(c)
	if err != nil {
		return state.Result{}, err
	}
	res, err := m.Apply(ctx, c.version, fn)
	c.applied = res.Version
	if err != nil {
		return res, err
	}
	if d.deltas != nil && !res.Delta.Empty() {
		d.deltas.ObserveDelta(deltaRecords(res.Delta))
	}
	d.emit(ctx, emitter.EventsForDelta(c.modelID, res.Version, res.Delta)...)
	if res.ChangeSet != nil {
		d.emit(ctx, emitter.WarningEvents(c.modelID, res.Version, res.ChangeSet.Warnings)...)
	}
	return res, nil
}

func (d *Dispatcher) connectPorts(ctx context.Context, c *command) (map[string]any, error) {
	port1, err := c.params.String("port1Id")
	if err != nil {
		return nil, err
	}
	port2, err := c.params.String("port2Id")
	if err != nil {
		return nil, err
	}
	res, err := d.mutate(ctx, c, func(m *core.Mutator) (*core.ChangeSet, error) {
		return m.ConnectPorts(ctx, port1, port2)
	})
	if err != nil {
		return nil, err
	}
	return resultFor(res), nil
}

func (d *Dispatcher) splitConductor(ctx context.Context, c *command) (map[string]any, error) {
	conductorID, err := c.params.String("conductorId")
	if err != nil {
		return nil, err
	}
	location, err := c.params.Coord("location")
	if err != nil {
		return nil, err
	}
	modeName, err := c.params.OptString("mode")
	if err != nil {
		return nil, err
	}
	if modeName == "" {
		modeName = string(core.SplitConnect)
	}
	mode, err := core.ParseSplitMode(modeName)
	if err != nil {
		return nil, err
	}
	containerID, err := c.params.OptString("containerId")
	if err != nil {
		return nil, err
	}

	res, err := d.mutate(ctx, c, func(m *core.Mutator) (*core.ChangeSet, error) {
		return m.SplitConductor(ctx, core.SplitRequest{
			ConductorID: conductorID,
			Location:    location,
			Mode:        mode,
			ContainerID: containerID,
		})
	})
	if err != nil {
		return nil, err
	}
	return resultFor(res), nil
}

func (d *Dispatcher) removePort(ctx context.Context, c *command) (map[string]any, error) {
	portID, err := c.params.String("portId")
	if err != nil {
		return nil, err
	}
	res, err := d.mutate(ctx, c, func(m *core.Mutator) (*core.ChangeSet, error) {
		return m.RemovePort(ctx, portID)
	})
	if err != nil {
		return nil, err
	}
	return resultFor(res), nil
}

func (d *Dispatcher) setCarrier(ctx context.Context, c *command) (map[string]any, error) {
	assetID, err := c.params.String("assetId")
	if err != nil {
		return nil, err
	}
	carrierID, err := c.params.String("carrierId")
	if err != nil {
		return nil, err
	}
	res, err := d.mutate(ctx, c, func(m *core.Mutator) (*core.ChangeSet, error) {
		return m.SetCarrier(ctx, assetID, carrierID)
	})
	if err != nil {
		return nil, err
	}
	return resultFor(res), nil
}

// removeConnection checks that both ports belong to the named assets
// before disconnecting them.
func (d *Dispatcher) removeConnection(ctx context.Context, c *command) (map[string]any, error) {
	var ids [4]string
	for i, key := range []string{"fromAssetId", "fromPortId", "toAssetId", "toPortId"} {
		v, err := c.params.String(key)
		if err != nil {
			return nil, err
		}
		ids[i] = v
	}
	fromAsset, fromPort, toAsset, toPort := ids[0], ids[1], ids[2], ids[3]

	return d.disconnect(ctx, c, fromPort, toPort, func(store *kb.KnowledgeBase) error {
		if err := checkOwner(store, fromAsset, fromPort); err != nil {
			return err
		}
		return checkOwner(store, toAsset, toPort)
	})
}

func (d *Dispatcher) removeConnectionByPort(ctx context.Context, c *command) (map[string]any, error) {
	fromPort, err := c.params.String("fromPortId")
	if err != nil {
		return nil, err
	}
	toPort, err := c.params.String("toPortId")
	if err != nil {
		return nil, err
	}
	return d.disconnect(ctx, c, fromPort, toPort, nil)
}

// disconnect removes one edge and redraws the connection layer, plus the
// building editor's layer when buildingId is given.
func (d *Dispatcher) disconnect(ctx context.Context, c *command, fromPort, toPort string, check func(store *kb.KnowledgeBase) error) (map[string]any, error) {
	buildingID, err := c.params.OptString("buildingId")
	if err != nil {
		return nil, err
	}
	m, err := d.model(c)
	if err != nil {
		return nil, err
	}
	res, err := m.Apply(ctx, c.version, func(mu *core.Mutator) (*core.ChangeSet, error) {
		if check != nil {
			if err := check(mu.KB); err != nil {
				return nil, err
			}
		}
		return mu.RemoveConnection(ctx, fromPort, toPort)
	})
	c.applied = res.Version
	if err != nil {
		return nil, err
	}
	if d.deltas != nil {
		d.deltas.ObserveDelta(deltaRecords(res.Delta))
	}

	d.emit(ctx, emitter.ConnectionEvents(c.modelID, res.Version, "", m.Cache().Connections())...)
	result := resultFor(res)
	if buildingID != "" {
		proj, _, err := m.FlattenBuilding(ctx, buildingID)
		if err != nil {
			return nil, err
		}
		d.emit(ctx, emitter.ConnectionEvents(c.modelID, res.Version, buildingID, proj.Connections)...)
		result["buildingConnections"] = len(proj.Connections)
	}
	return result, nil
}

func checkOwner(store *kb.KnowledgeBase, assetID, portID string) error {
	owner := store.OwnerOf(portID)
	if owner == nil {
		return fmt.Errorf("%w: port %q", core.ErrNotFound, portID)
	}
	if owner.ID != assetID {
		return fmt.Errorf("%w: port %q belongs to %q, not %q", core.ErrNotFound, portID, owner.ID, assetID)
	}
	return nil
}

//
// ---------- Projections ----------
//

func (d *Dispatcher) load(ctx context.Context, c *command) (map[string]any, error) {
	body, err := c.params.JSON("system")
	if err != nil {
		return nil, err
	}
	if !json.Valid(body) {
		return nil, fmt.Errorf("%w: system is not valid JSON", ErrInvalidCommand)
	}
	m, created := d.registry.GetOrCreate(c.modelID)
	if !created {
		if err := checkVersion(m, c.version); err != nil {
			c.applied = m.Version()
			return nil, err
		}
	}
	summary, proj, err := m.Load(ctx, bytes.NewReader(body))
	c.applied = m.Version()
	if err != nil {
		if created {
			d.registry.Remove(c.modelID)
		}
		return nil, err
	}
	d.emit(ctx, emitter.ProjectionEvents(c.modelID, c.applied, proj)...)

	return map[string]any{
		"systemId":      summary.SystemID,
		"areas":         summary.Areas,
		"assets":        summary.Assets,
		"ports":         summary.Ports,
		"carriers":      summary.Carriers,
		"connections":   summary.Connections,
		"dangling":      summary.Dangling,
		"sameDirection": summary.SameDirection,
	}, nil
}

// checkVersion compares outside the model lock; Load replaces the whole
// model so a stale version there only guards against reloading twice.
func checkVersion(m *state.ModelState, expected *uint64) error {
	if expected == nil {
		return nil
	}
	if v := m.Version(); v != *expected {
		return fmt.Errorf("%w: model %q is at version %d, command expected %d",
			state.ErrVersionConflict, m.ID(), v, *expected)
	}
	return nil
}

func (d *Dispatcher) refresh(ctx context.Context, c *command) (map[string]any, error) {
	m, err := d.model(c)
	if err != nil {
		return nil, err
	}
	proj, version, err := m.Refresh(ctx)
	c.applied = version
	if err != nil {
		return nil, err
	}
	d.emit(ctx, emitter.ProjectionEvents(c.modelID, version, proj)...)
	return projectionCounts(proj), nil
}

func (d *Dispatcher) redrawConnections(ctx context.Context, c *command) (map[string]any, error) {
	buildingID, err := c.params.OptString("buildingId")
	if err != nil {
		return nil, err
	}
	m, err := d.model(c)
	if err != nil {
		return nil, err
	}

	var (
		proj    *core.Projection
		version uint64
	)
	if buildingID != "" {
		proj, version, err = m.FlattenBuilding(ctx, buildingID)
	} else {
		proj, version, err = m.Refresh(ctx)
	}
	c.applied = version
	if err != nil {
		return nil, err
	}
	d.emit(ctx, emitter.ConnectionEvents(c.modelID, version, buildingID, proj.Connections)...)
	return map[string]any{"connections": len(proj.Connections)}, nil
}

func (d *Dispatcher) buildingEditor(ctx context.Context, c *command) (map[string]any, error) {
	buildingID, err := c.params.String("id")
	if err != nil {
		return nil, err
	}
	m, err := d.model(c)
	if err != nil {
		return nil, err
	}
	proj, version, err := m.FlattenBuilding(ctx, buildingID)
	c.applied = version
	if err != nil {
		return nil, err
	}
	d.emit(ctx, emitter.BuildingEditorEvent(c.modelID, version, buildingID, proj))
	return projectionCounts(proj), nil
}

func (d *Dispatcher) validate(ctx context.Context, c *command) (map[string]any, error) {
	m, err := d.model(c)
	if err != nil {
		return nil, err
	}
	var warnings []core.Warning
	_ = m.View(func(store *kb.KnowledgeBase, _ *projection.Cache, version uint64) error {
		warnings = core.Validate(store)
		c.applied = version
		return nil
	})
	d.emit(ctx, emitter.WarningEvents(c.modelID, c.applied, warnings)...)
	if warnings == nil {
		warnings = []core.Warning{}
	}
	return map[string]any{"warnings": warnings}, nil
}

func (d *Dispatcher) getProjection(ctx context.Context, c *command) (map[string]any, error) {
	m, err := d.model(c)
	if err != nil {
		return nil, err
	}
	proj, version, err := m.Projection(ctx)
	c.applied = version
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"assets":      nonNil(proj.Assets),
		"connections": nonNil(proj.Connections),
		"index":       nonNil(proj.Index),
	}, nil
}

//
// ---------- Helpers ----------
//

func resultFor(res state.Result) map[string]any {
	out := map[string]any{
		"addedAssets":        len(res.Delta.AddedAssets),
		"updatedAssets":      len(res.Delta.UpdatedAssets),
		"removedAssets":      len(res.Delta.RemovedAssets),
		"addedConnections":   len(res.Delta.AddedConnections),
		"removedConnections": len(res.Delta.RemovedConnections),
	}
	if res.ChangeSet != nil {
		added := res.ChangeSet.AddedAssets
		if added == nil {
			added = []string{}
		}
		out["created"] = added
		if len(res.ChangeSet.Warnings) > 0 {
			out["warnings"] = res.ChangeSet.Warnings
		}
	}
	return out
}

func projectionCounts(p *core.Projection) map[string]any {
	return map[string]any{
		"assets":      len(p.Assets),
		"connections": len(p.Connections),
		"index":       len(p.Index),
	}
}

func deltaRecords(d projection.Delta) int {
	return len(d.AddedAssets) + len(d.UpdatedAssets) + len(d.RemovedAssets) +
		len(d.AddedConnections) + len(d.RemovedConnections)
}

func nonNil[T model.AssetEntry | model.Connection | model.IndexEntry](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
