package scene

// UpdateEventMask selects which scene update phases a logic component
// receives. The scene dispatches by checking the mask, so changing it at
// runtime takes effect on the next frame.
type UpdateEventMask uint8

const (
	UseUpdate UpdateEventMask = 1 << iota
	UsePostUpdate
	UseFixedUpdate
	UseFixedPostUpdate

	UseNoEvent   UpdateEventMask = 0
	UseAllEvents                 = UseUpdate | UsePostUpdate | UseFixedUpdate | UseFixedPostUpdate
)

// LogicComponent is a component driven by the scene update loop. Concrete
// types embed LogicComponentBase and override the callbacks they use.
//
// Callback order: Start fires once when the component becomes
// scene-attached. DelayedStart fires before the component's first update
// callback of any kind. Stop fires when the component leaves the scene.
// Re-attaching runs the sequence again.
type LogicComponent interface {
	Component

	// logicBase anchors the implementation to LogicComponentBase so the
	// scene can reach the dispatch helpers.
	logicBase() *LogicComponentBase

	UpdateEventMask() UpdateEventMask
	SetUpdateEventMask(mask UpdateEventMask)

	Start()
	DelayedStart()
	Stop()
	Update(timeStep float32)
	PostUpdate(timeStep float32)
	FixedUpdate(timeStep float32)
	FixedPostUpdate(timeStep float32)
}

// LogicComponentBase implements LogicComponent with no-op callbacks and
// the full event mask.
type LogicComponentBase struct {
	ComponentBase

	mask               UpdateEventMask
	delayedStartCalled bool
}

// InitLogicComponent wires a freshly constructed logic component. Component
// constructors call it instead of InitComponent.
func InitLogicComponent(c LogicComponent, ti *TypeInfo) {
	InitComponent(c, ti)
	c.logicBase().mask = UseAllEvents
}

func (b *LogicComponentBase) logicBase() *LogicComponentBase { return b }

// UpdateEventMask returns the subscribed update phases.
func (b *LogicComponentBase) UpdateEventMask() UpdateEventMask { return b.mask }

// SetUpdateEventMask changes the subscribed update phases.
func (b *LogicComponentBase) SetUpdateEventMask(mask UpdateEventMask) { b.mask = mask }

// DelayedStartCalled reports whether DelayedStart has already run since the
// last scene attach.
func (b *LogicComponentBase) DelayedStartCalled() bool { return b.delayedStartCalled }

// Default callbacks.

func (b *LogicComponentBase) Start()                           {}
func (b *LogicComponentBase) DelayedStart()                    {}
func (b *LogicComponentBase) Stop()                            {}
func (b *LogicComponentBase) Update(timeStep float32)          {}
func (b *LogicComponentBase) PostUpdate(timeStep float32)      {}
func (b *LogicComponentBase) FixedUpdate(timeStep float32)     {}
func (b *LogicComponentBase) FixedPostUpdate(timeStep float32) {}

// OnSceneSet runs Start on attach and Stop on detach. Types overriding
// OnSceneSet must call this implementation to keep the callback contract.
// Update dispatch registration is handled by the scene itself.
func (b *LogicComponentBase) OnSceneSet(scene *Scene) {
	lc := b.this.(LogicComponent)
	if scene != nil {
		lc.Start()
	} else {
		b.delayedStartCalled = false
		lc.Stop()
	}
}

// runDelayedStart fires DelayedStart exactly once per scene attachment.
func (b *LogicComponentBase) runDelayedStart() {
	if b.delayedStartCalled {
		return
	}
	b.delayedStartCalled = true
	b.this.(LogicComponent).DelayedStart()
}

func (b *LogicComponentBase) runUpdate(timeStep float32) {
	if !b.EnabledEffective() {
		return
	}
	b.runDelayedStart()
	if b.mask&UseUpdate != 0 {
		b.this.(LogicComponent).Update(timeStep)
	}
}

func (b *LogicComponentBase) runPostUpdate(timeStep float32) {
	if !b.EnabledEffective() || b.mask&UsePostUpdate == 0 {
		return
	}
	b.runDelayedStart()
	b.this.(LogicComponent).PostUpdate(timeStep)
}

func (b *LogicComponentBase) runFixedUpdate(timeStep float32) {
	if !b.EnabledEffective() || b.mask&UseFixedUpdate == 0 {
		return
	}
	b.runDelayedStart()
	b.this.(LogicComponent).FixedUpdate(timeStep)
}

func (b *LogicComponentBase) runFixedPostUpdate(timeStep float32) {
	if !b.EnabledEffective() || b.mask&UseFixedPostUpdate == 0 {
		return
	}
	b.runDelayedStart()
	b.this.(LogicComponent).FixedPostUpdate(timeStep)
}
