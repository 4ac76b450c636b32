package scene

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chewxy/math32"

	"github.com/scenesync/scenesync/internal/core/attr"
	"github.com/scenesync/scenesync/internal/core/events/bus"
	"github.com/scenesync/scenesync/internal/core/hash"
	"github.com/scenesync/scenesync/internal/core/log"
	"github.com/scenesync/scenesync/internal/core/variant"
)

// A stalled frame replays at most this many fixed steps before the backlog
// is discarded.
const maxFixedStepsPerFrame = 10

// Lower bound for the time scale and the smoothing constant.
const timeScaleMin = 1e-6

// Config carries the tunables and collaborators of a scene. Zero-valued
// fields are filled from DefaultConfig and the Nop collaborators.
type Config struct {
	// TimeScale multiplies the time step of every update.
	TimeScale float32
	// SmoothingConstant controls how fast smoothed transforms approach
	// their targets. Higher is faster.
	SmoothingConstant float32
	// SnapThreshold is the distance beyond which smoothed transforms snap
	// instead of interpolating.
	SnapThreshold float32
	// FixedUpdateRate is the frequency of fixed update steps in Hz.
	// Zero disables the fixed phases.
	FixedUpdateRate int
	// AsyncLoadBudget bounds the time one Update spends on async loading.
	AsyncLoadBudget time.Duration

	// Registry resolves component types. Defaults to DefaultRegistry.
	Registry *Registry
	// Events receives scene lifecycle events. Defaults to an in-process bus.
	Events bus.EventBus
	// Logger defaults to the silent logger.
	Logger log.Log
	// Resources, when set, preloads the resource manifest of async loads.
	Resources ResourcePreloader
}

// DefaultConfig returns the standard scene tuning.
func DefaultConfig() Config {
	return Config{
		TimeScale:         1,
		SmoothingConstant: 50,
		SnapThreshold:     5,
		FixedUpdateRate:   60,
		AsyncLoadBudget:   5 * time.Millisecond,
	}
}

// Scene is the root of a node hierarchy and the owner of all scene-wide
// state: ID allocation, the node and component registries, the tag index,
// registered variable names, the update loop and async loading.
//
// A scene is not safe for concurrent mutation. The threaded update window
// (BeginThreadedUpdate / EndThreadedUpdate) only covers transform dirtying
// through DelayedMarkedDirty.
type Scene struct {
	SerializableBase

	logger   log.Log
	events   bus.EventBus
	registry *Registry

	root *Node

	nodes      map[uint32]*Node
	components map[uint32]Component

	replicatedNodes      idAllocator
	localNodes           idAllocator
	replicatedComponents idAllocator
	localComponents      idAllocator

	taggedNodes map[string][]*Node
	varNames    map[hash.StringHash]string

	updateEnabled     bool
	timeScale         float32
	elapsedTime       float32
	fixedRate         int
	fixedAccum        float32
	smoothingConstant float32
	snapThreshold     float32

	logicComponents    []LogicComponent
	smoothedTransforms []*SmoothedTransform

	threaded     atomic.Bool
	delayedMu    sync.Mutex
	delayedDirty []Component

	networkUpdateNodes      map[uint32]struct{}
	networkUpdateComponents map[uint32]struct{}

	resources     ResourcePreloader
	asyncBudget   time.Duration
	async         *asyncLoader
	asyncProgress float32

	checksum      uint32
	checksumDirty bool
}

// NewScene creates a scene whose root node holds the first replicated ID.
func NewScene(cfg Config) *Scene {
	def := DefaultConfig()
	if cfg.TimeScale <= 0 {
		cfg.TimeScale = def.TimeScale
	}
	if cfg.SmoothingConstant <= 0 {
		cfg.SmoothingConstant = def.SmoothingConstant
	}
	if cfg.SnapThreshold <= 0 {
		cfg.SnapThreshold = def.SnapThreshold
	}
	if cfg.AsyncLoadBudget <= 0 {
		cfg.AsyncLoadBudget = def.AsyncLoadBudget
	}
	if cfg.Registry == nil {
		cfg.Registry = DefaultRegistry()
	}
	if cfg.Events == nil {
		cfg.Events = bus.New()
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Nop()
	}

	s := &Scene{
		logger:   cfg.Logger,
		events:   cfg.Events,
		registry: cfg.Registry,

		nodes:      make(map[uint32]*Node),
		components: make(map[uint32]Component),

		replicatedNodes:      newIDAllocator(FirstReplicatedID, LastReplicatedID),
		localNodes:           newIDAllocator(FirstLocalID, LastLocalID),
		replicatedComponents: newIDAllocator(FirstReplicatedID, LastReplicatedID),
		localComponents:      newIDAllocator(FirstLocalID, LastLocalID),

		taggedNodes: make(map[string][]*Node),
		varNames:    make(map[hash.StringHash]string),

		updateEnabled:     true,
		timeScale:         cfg.TimeScale,
		fixedRate:         cfg.FixedUpdateRate,
		smoothingConstant: cfg.SmoothingConstant,
		snapThreshold:     cfg.SnapThreshold,

		networkUpdateNodes:      make(map[uint32]struct{}),
		networkUpdateComponents: make(map[uint32]struct{}),

		resources:   cfg.Resources,
		asyncBudget: cfg.AsyncLoadBudget,

		checksumDirty: true,
	}

	root := NewNode("")
	// A fresh allocator cannot be exhausted.
	id, _ := s.replicatedNodes.alloc(s.nodeIDInUse)
	root.id = id
	root.setScene(s)
	s.nodes[id] = root
	s.root = root
	return s
}

// Root returns the root node. The root cannot be removed, cloned or
// disabled.
func (s *Scene) Root() *Node { return s.root }

// Registry returns the component type registry.
func (s *Scene) Registry() *Registry { return s.registry }

// Events returns the scene's event bus.
func (s *Scene) Events() bus.EventBus { return s.events }

// Attributes implements Serializable.
func (s *Scene) Attributes() *attr.Table { return sceneAttributes }

// ID lookup

// NodeByID returns the node with the given ID, nil when absent.
func (s *Scene) NodeByID(id uint32) *Node { return s.nodes[id] }

// ComponentByID returns the component with the given ID, nil when absent.
func (s *Scene) ComponentByID(id uint32) Component { return s.components[id] }

// NodeCount returns the number of scene-attached nodes, the root included.
func (s *Scene) NodeCount() int { return len(s.nodes) }

// ComponentCount returns the number of scene-attached components.
func (s *Scene) ComponentCount() int { return len(s.components) }

func (s *Scene) nodeIDInUse(id uint32) bool {
	_, used := s.nodes[id]
	return used
}

func (s *Scene) componentIDInUse(id uint32) bool {
	_, used := s.components[id]
	return used
}

// NextNodeID allocates a free node ID from the range selected by mode.
func (s *Scene) NextNodeID(mode CreateMode) (uint32, error) {
	a := &s.replicatedNodes
	if mode == Local {
		a = &s.localNodes
	}
	id, err := a.alloc(s.nodeIDInUse)
	if err != nil {
		return 0, fmt.Errorf("%v node IDs: %w", mode, err)
	}
	return id, nil
}

// NextComponentID allocates a free component ID from the range selected by
// mode.
func (s *Scene) NextComponentID(mode CreateMode) (uint32, error) {
	a := &s.replicatedComponents
	if mode == Local {
		a = &s.localComponents
	}
	id, err := a.alloc(s.componentIDInUse)
	if err != nil {
		return 0, fmt.Errorf("%v component IDs: %w", mode, err)
	}
	return id, nil
}

// Registration

// nodeAdded registers a newly attached subtree. On failure everything
// registered so far is unregistered again and the caller detaches the
// subtree.
func (s *Scene) nodeAdded(n *Node) error {
	if err := s.registerNodeTree(n); err != nil {
		s.nodeRemoved(n)
		return err
	}
	return nil
}

func (s *Scene) registerNodeTree(n *Node) error {
	if err := s.registerNode(n); err != nil {
		return err
	}
	for _, c := range n.components {
		if err := s.registerComponent(c); err != nil {
			return err
		}
	}
	for _, child := range n.children {
		if err := s.registerNodeTree(child); err != nil {
			return err
		}
	}
	return nil
}

// registerNode assigns an ID when the node has none or its ID collides,
// inserts the node into the lookup maps and tag index and announces it.
func (s *Scene) registerNode(n *Node) error {
	id := n.id
	switch {
	case id == 0:
		var err error
		if id, err = s.NextNodeID(Replicated); err != nil {
			return err
		}
	case s.nodes[id] != nil && s.nodes[id] != n:
		mode := Replicated
		if !IsReplicatedID(id) {
			mode = Local
		}
		s.logger.Warn("node ID already in use, assigning a new one",
			log.Uint32("id", id), log.String("name", n.name))
		var err error
		if id, err = s.NextNodeID(mode); err != nil {
			return err
		}
	}
	n.id = id
	n.setScene(s)
	s.nodes[id] = n
	if IsReplicatedID(id) {
		s.checksumDirty = true
	}
	for _, tag := range n.tags {
		s.tagIndexAdd(tag, n)
	}
	s.publishNodeEvent(EventNodeAdded, n)
	return nil
}

// registerComponent resolves ID clashes the same way registerNode does,
// then hands over to componentAdded.
func (s *Scene) registerComponent(c Component) error {
	b := c.Base()
	id := c.ID()
	switch {
	case id == 0:
		var err error
		if id, err = s.NextComponentID(Replicated); err != nil {
			return err
		}
		b.setID(id)
	case s.components[id] != nil && s.components[id] != c:
		mode := Replicated
		if !IsReplicatedID(id) {
			mode = Local
		}
		s.logger.Warn("component ID already in use, assigning a new one",
			log.Uint32("id", id), log.String("type", c.TypeName()))
		var err error
		if id, err = s.NextComponentID(mode); err != nil {
			return err
		}
		b.setID(id)
	}
	s.componentAdded(c)
	return nil
}

// componentAdded registers a component that already carries its ID and
// fires OnSceneSet. OnNodeSet has already run by now.
func (s *Scene) componentAdded(c Component) {
	s.components[c.ID()] = c
	if IsReplicatedID(c.ID()) {
		s.checksumDirty = true
	}
	s.trackComponent(c)
	c.OnSceneSet(s)
	s.publishComponentEvent(EventComponentAdded, c)
}

// componentRemoved unregisters a component and fires OnSceneSet(nil) while
// the node is still attached. The component loses its ID.
func (s *Scene) componentRemoved(c Component) {
	b := c.Base()
	if id := c.ID(); id != 0 {
		delete(s.components, id)
		delete(s.networkUpdateComponents, id)
		if IsReplicatedID(id) {
			s.checksumDirty = true
		}
	}
	s.untrackComponent(c)
	c.OnSceneSet(nil)
	b.setID(0)
	b.clearNetworkUpdate()
}

// nodeRemoved unregisters a subtree: components first, then children, then
// the node itself. Nodes keep their children and components but lose scene
// identity.
func (s *Scene) nodeRemoved(n *Node) {
	for _, c := range n.components {
		s.componentRemoved(c)
	}
	for _, child := range n.children {
		s.nodeRemoved(child)
	}
	if n.id != 0 {
		delete(s.nodes, n.id)
		delete(s.networkUpdateNodes, n.id)
		if IsReplicatedID(n.id) {
			s.checksumDirty = true
		}
	}
	for _, tag := range n.tags {
		s.tagIndexRemove(tag, n)
	}
	n.resetScene()
}

// trackComponent maintains the update dispatch lists.
func (s *Scene) trackComponent(c Component) {
	if lc, ok := c.(LogicComponent); ok {
		s.logicComponents = append(s.logicComponents, lc)
	}
	if st, ok := c.(*SmoothedTransform); ok {
		s.smoothedTransforms = append(s.smoothedTransforms, st)
	}
}

func (s *Scene) untrackComponent(c Component) {
	if lc, ok := c.(LogicComponent); ok {
		for i, cur := range s.logicComponents {
			if cur == lc {
				s.logicComponents = append(s.logicComponents[:i], s.logicComponents[i+1:]...)
				break
			}
		}
	}
	if st, ok := c.(*SmoothedTransform); ok {
		for i, cur := range s.smoothedTransforms {
			if cur == st {
				s.smoothedTransforms = append(s.smoothedTransforms[:i], s.smoothedTransforms[i+1:]...)
				break
			}
		}
	}
}

// Tag index

func (s *Scene) nodeTagAdded(n *Node, tag string) {
	s.tagIndexAdd(tag, n)
	s.publishTagEvent(EventNodeTagAdded, n, tag)
}

func (s *Scene) nodeTagRemoved(n *Node, tag string) {
	s.tagIndexRemove(tag, n)
	s.publishTagEvent(EventNodeTagRemoved, n, tag)
}

func (s *Scene) tagIndexAdd(tag string, n *Node) {
	s.taggedNodes[tag] = append(s.taggedNodes[tag], n)
}

func (s *Scene) tagIndexRemove(tag string, n *Node) {
	nodes := s.taggedNodes[tag]
	for i, cur := range nodes {
		if cur == n {
			nodes = append(nodes[:i], nodes[i+1:]...)
			break
		}
	}
	if len(nodes) == 0 {
		delete(s.taggedNodes, tag)
		return
	}
	s.taggedNodes[tag] = nodes
}

// NodesWithTag returns the scene-attached nodes carrying the tag, in
// attachment order.
func (s *Scene) NodesWithTag(tag string) []*Node {
	nodes := s.taggedNodes[tag]
	if len(nodes) == 0 {
		return nil
	}
	out := make([]*Node, len(nodes))
	copy(out, nodes)
	return out
}

// Variable names

// RegisterVar records the reverse mapping of a user variable name so that
// saved and replicated variable keys stay readable.
func (s *Scene) RegisterVar(name string) hash.StringHash {
	h := hash.NewStringHash(name)
	s.varNames[h] = name
	return h
}

// VarName resolves a registered variable name by hash.
func (s *Scene) VarName(h hash.StringHash) (string, bool) {
	name, ok := s.varNames[h]
	return name, ok
}

// UnregisterVar removes one registered variable name.
func (s *Scene) UnregisterVar(name string) {
	delete(s.varNames, hash.NewStringHash(name))
}

// UnregisterAllVars removes every registered variable name.
func (s *Scene) UnregisterAllVars() {
	s.varNames = make(map[hash.StringHash]string)
}

// Update loop

// Update advances the scene by timeStep seconds: async loading first, then
// fixed update phases, the variable update, transform smoothing and the
// post update. Events bracket the variable phases.
func (s *Scene) Update(timeStep float32) {
	if !s.updateEnabled {
		return
	}
	if s.async != nil {
		s.updateAsyncLoading()
		if s.async != nil {
			return
		}
	}
	if timeStep < 0 {
		timeStep = 0
	}
	timeStep *= s.timeScale

	logic := append([]LogicComponent(nil), s.logicComponents...)

	if s.fixedRate > 0 {
		fixedStep := 1 / float32(s.fixedRate)
		s.fixedAccum += timeStep
		if limit := fixedStep * maxFixedStepsPerFrame; s.fixedAccum > limit {
			s.fixedAccum = limit
		}
		for s.fixedAccum >= fixedStep {
			s.fixedAccum -= fixedStep
			for _, lc := range logic {
				if lc.Scene() == s {
					lc.logicBase().runFixedUpdate(fixedStep)
				}
			}
			for _, lc := range logic {
				if lc.Scene() == s {
					lc.logicBase().runFixedPostUpdate(fixedStep)
				}
			}
		}
	}

	s.publishUpdateEvent(EventSceneUpdate, timeStep)
	for _, lc := range logic {
		if lc.Scene() == s {
			lc.logicBase().runUpdate(timeStep)
		}
	}

	if len(s.smoothedTransforms) > 0 && timeStep > 0 {
		k := math32.Pow(2, -timeStep*s.smoothingConstant)
		if k > 1 {
			k = 1
		}
		constant := 1 - k
		squaredSnap := s.snapThreshold * s.snapThreshold
		smoothed := append([]*SmoothedTransform(nil), s.smoothedTransforms...)
		for _, st := range smoothed {
			if st.Scene() == s {
				st.update(constant, squaredSnap)
			}
		}
	}

	for _, lc := range logic {
		if lc.Scene() == s {
			lc.logicBase().runPostUpdate(timeStep)
		}
	}
	s.publishUpdateEvent(EventScenePostUpdate, timeStep)

	s.elapsedTime += timeStep
}

// UpdateEnabled reports whether Update does anything.
func (s *Scene) UpdateEnabled() bool { return s.updateEnabled }

// SetUpdateEnabled pauses or resumes the whole update loop, async loading
// included.
func (s *Scene) SetUpdateEnabled(enable bool) { s.updateEnabled = enable }

// TimeScale returns the update time multiplier.
func (s *Scene) TimeScale() float32 { return s.timeScale }

// SetTimeScale sets the update time multiplier, clamped to a small
// positive minimum.
func (s *Scene) SetTimeScale(scale float32) {
	if scale < timeScaleMin {
		scale = timeScaleMin
	}
	s.timeScale = scale
}

// ElapsedTime returns the accumulated scaled update time in seconds.
func (s *Scene) ElapsedTime() float32 { return s.elapsedTime }

// SetElapsedTime overrides the accumulated update time.
func (s *Scene) SetElapsedTime(t float32) { s.elapsedTime = t }

// FixedUpdateRate returns the fixed step frequency in Hz, 0 when disabled.
func (s *Scene) FixedUpdateRate() int { return s.fixedRate }

// SetFixedUpdateRate changes the fixed step frequency. Zero or negative
// disables the fixed phases.
func (s *Scene) SetFixedUpdateRate(hz int) {
	if hz < 0 {
		hz = 0
	}
	s.fixedRate = hz
	s.fixedAccum = 0
}

// SmoothingConstant returns the transform smoothing speed.
func (s *Scene) SmoothingConstant() float32 { return s.smoothingConstant }

// SetSmoothingConstant sets the transform smoothing speed, clamped to a
// small positive minimum.
func (s *Scene) SetSmoothingConstant(constant float32) {
	if constant < timeScaleMin {
		constant = timeScaleMin
	}
	s.smoothingConstant = constant
}

// SnapThreshold returns the smoothing snap distance.
func (s *Scene) SnapThreshold() float32 { return s.snapThreshold }

// SetSnapThreshold sets the distance beyond which smoothed transforms stop
// interpolating and snap.
func (s *Scene) SetSnapThreshold(threshold float32) {
	if threshold < 0 {
		threshold = 0
	}
	s.snapThreshold = threshold
}

// AsyncLoadBudget returns the per-update async loading time budget.
func (s *Scene) AsyncLoadBudget() time.Duration { return s.asyncBudget }

// SetAsyncLoadBudget changes the per-update async loading time budget.
func (s *Scene) SetAsyncLoadBudget(d time.Duration) {
	if d <= 0 {
		d = DefaultConfig().AsyncLoadBudget
	}
	s.asyncBudget = d
}

// Threaded update window

// BeginThreadedUpdate opens a window during which worker goroutines may
// mutate node transforms. Listener components must route their dirty
// reactions through DelayedMarkedDirty until EndThreadedUpdate.
func (s *Scene) BeginThreadedUpdate() { s.threaded.Store(true) }

// EndThreadedUpdate closes the window and replays the deferred dirty
// notifications on the calling goroutine.
func (s *Scene) EndThreadedUpdate() {
	if !s.threaded.CompareAndSwap(true, false) {
		return
	}
	s.delayedMu.Lock()
	deferred := s.delayedDirty
	s.delayedDirty = nil
	s.delayedMu.Unlock()
	for _, c := range deferred {
		if n := c.Node(); n != nil {
			c.OnMarkedDirty(n)
		}
	}
}

// IsThreadedUpdate reports whether a threaded update window is open.
func (s *Scene) IsThreadedUpdate() bool { return s.threaded.Load() }

// DelayedMarkedDirty queues a component's dirty reaction for
// EndThreadedUpdate. Safe to call from worker goroutines.
func (s *Scene) DelayedMarkedDirty(c Component) {
	s.delayedMu.Lock()
	s.delayedDirty = append(s.delayedDirty, c)
	s.delayedMu.Unlock()
}

// ResolveDirtyTransforms eagerly recomputes every dirty world transform.
func (s *Scene) ResolveDirtyTransforms() {
	resolveDirtyTransforms(s.root)
}

func resolveDirtyTransforms(n *Node) {
	if n.dirty {
		n.WorldTransform()
	}
	for _, child := range n.children {
		resolveDirtyTransforms(child)
	}
}

// Clear

// Clear removes nodes and components in the selected ID ranges from the
// whole tree. Clearing both ranges also resets the ID allocators, the
// registered variable names and the root node's name and variables.
func (s *Scene) Clear(clearReplicated, clearLocal bool) {
	s.root.removeChildrenFiltered(clearReplicated, clearLocal, true)
	s.root.removeComponentsFiltered(clearReplicated, clearLocal)
	if clearReplicated && clearLocal {
		s.replicatedNodes.reset()
		s.localNodes.reset()
		s.replicatedComponents.reset()
		s.localComponents.reset()
		// The root keeps its ID.
		s.replicatedNodes.setNext(s.root.id + 1)
		s.UnregisterAllVars()
		s.root.setName("")
		s.root.vars = nil
		s.checksumDirty = true
	}
}

// Checksum

// Checksum folds the component schema and the IDs of every replicated node
// and component. Two scenes with the same registered types and the same
// replicated content agree on it.
func (s *Scene) Checksum() uint32 {
	if !s.checksumDirty {
		return s.checksum
	}
	ids := make([]uint32, 0, len(s.nodes)+len(s.components))
	for id := range s.nodes {
		if IsReplicatedID(id) {
			ids = append(ids, id)
		}
	}
	nodeIDs := len(ids)
	sort.Slice(ids[:nodeIDs], func(i, j int) bool { return ids[i] < ids[j] })
	for id := range s.components {
		if IsReplicatedID(id) {
			ids = append(ids, id)
		}
	}
	compIDs := ids[nodeIDs:]
	sort.Slice(compIDs, func(i, j int) bool { return compIDs[i] < compIDs[j] })

	sum := s.registry.Checksum()
	for _, id := range ids {
		sum = hash.Fold(sum, id)
	}
	s.checksum = sum
	s.checksumDirty = false
	return sum
}

// Replication queue

func (s *Scene) markNodeForNetworkUpdate(n *Node) {
	s.networkUpdateNodes[n.id] = struct{}{}
}

func (s *Scene) markComponentForNetworkUpdate(c Component) {
	s.networkUpdateComponents[c.ID()] = struct{}{}
}

// Scene attribute table. The ID counters round-trip through files so
// allocation continues where a saved scene left off.
var sceneAttributes = attr.NewTable(
	attr.Accessor[Scene]("Time Scale", variant.TypeFloat, attr.ModeFile, variant.Float(1),
		func(s *Scene) variant.Variant { return variant.Float(s.timeScale) },
		func(s *Scene, v variant.Variant) { s.SetTimeScale(v.Float()) }),
	attr.Accessor[Scene]("Smoothing Constant", variant.TypeFloat, attr.ModeFile, variant.Float(50),
		func(s *Scene) variant.Variant { return variant.Float(s.smoothingConstant) },
		func(s *Scene, v variant.Variant) { s.SetSmoothingConstant(v.Float()) }),
	attr.Accessor[Scene]("Snap Threshold", variant.TypeFloat, attr.ModeFile, variant.Float(5),
		func(s *Scene) variant.Variant { return variant.Float(s.snapThreshold) },
		func(s *Scene, v variant.Variant) { s.SetSnapThreshold(v.Float()) }),
	attr.Accessor[Scene]("Elapsed Time", variant.TypeFloat, attr.ModeFile, variant.Float(0),
		func(s *Scene) variant.Variant { return variant.Float(s.elapsedTime) },
		func(s *Scene, v variant.Variant) { s.SetElapsedTime(v.Float()) }),
	attr.Accessor[Scene]("Next Replicated Node ID", variant.TypeInt, attr.ModeFile|attr.ModeNoEdit, variant.Int(int32(FirstReplicatedID)),
		func(s *Scene) variant.Variant { return variant.Int(int32(s.replicatedNodes.next)) },
		func(s *Scene, v variant.Variant) { s.replicatedNodes.setNext(v.UInt()) }),
	attr.Accessor[Scene]("Next Replicated Component ID", variant.TypeInt, attr.ModeFile|attr.ModeNoEdit, variant.Int(int32(FirstReplicatedID)),
		func(s *Scene) variant.Variant { return variant.Int(int32(s.replicatedComponents.next)) },
		func(s *Scene, v variant.Variant) { s.replicatedComponents.setNext(v.UInt()) }),
	attr.Accessor[Scene]("Next Local Node ID", variant.TypeInt, attr.ModeFile|attr.ModeNoEdit, variant.Int(int32(FirstLocalID)),
		func(s *Scene) variant.Variant { return variant.Int(int32(s.localNodes.next)) },
		func(s *Scene, v variant.Variant) { s.localNodes.setNext(v.UInt()) }),
	attr.Accessor[Scene]("Next Local Component ID", variant.TypeInt, attr.ModeFile|attr.ModeNoEdit, variant.Int(int32(FirstLocalID)),
		func(s *Scene) variant.Variant { return variant.Int(int32(s.localComponents.next)) },
		func(s *Scene, v variant.Variant) { s.localComponents.setNext(v.UInt()) }),
)
