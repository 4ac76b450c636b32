package scene

import (
	"github.com/scenesync/scenesync/internal/core/events/bus"
	"github.com/scenesync/scenesync/internal/core/log"
)

// Event types published on the scene's bus. Subscribe with
// Scene.Events().Subscribe.
const (
	EventNodeAdded               = "scene.node.added"
	EventNodeRemoved             = "scene.node.removed"
	EventNodeNameChanged         = "scene.node.name_changed"
	EventNodeEnabledChanged      = "scene.node.enabled_changed"
	EventNodeTagAdded            = "scene.node.tag_added"
	EventNodeTagRemoved          = "scene.node.tag_removed"
	EventComponentAdded          = "scene.component.added"
	EventComponentRemoved        = "scene.component.removed"
	EventComponentEnabledChanged = "scene.component.enabled_changed"
	EventSceneUpdate             = "scene.update"
	EventScenePostUpdate         = "scene.post_update"
	EventAsyncLoadProgress       = "scene.async.progress"
	EventAsyncLoadFinished       = "scene.async.finished"
	EventAsyncExecFinished       = "scene.async.exec_finished"
)

// NodeEventData is the payload of node lifecycle events.
type NodeEventData struct {
	Scene *Scene
	Node  *Node
}

// ComponentEventData is the payload of component lifecycle events.
type ComponentEventData struct {
	Scene     *Scene
	Component Component
}

// TagEventData is the payload of EventNodeTagAdded and EventNodeTagRemoved.
type TagEventData struct {
	Scene *Scene
	Node  *Node
	Tag   string
}

// UpdateEventData is the payload of EventSceneUpdate and
// EventScenePostUpdate. TimeStep is already scaled by the scene time scale.
type UpdateEventData struct {
	Scene    *Scene
	TimeStep float32
}

// AsyncEventData is the payload of async loading events. Progress runs from
// 0 to 1 over resources plus root-level nodes. Err is set on
// EventAsyncLoadFinished when the load aborted.
type AsyncEventData struct {
	Scene           *Scene
	JobID           string
	Progress        float32
	LoadedNodes     int
	TotalNodes      int
	LoadedResources int
	TotalResources  int
	Err             error
}

const eventSource = "scene"

// Handler failures never propagate into scene mutation paths; they are
// logged and dropped.
func (s *Scene) publish(eventType string, data any) {
	if err := s.events.Publish(bus.NewEvent(eventType, eventSource, data)); err != nil {
		s.logger.Warn("scene event handler failed",
			log.String("event", eventType),
			log.Error(err),
		)
	}
}

func (s *Scene) publishNodeEvent(eventType string, n *Node) {
	s.publish(eventType, NodeEventData{Scene: s, Node: n})
}

func (s *Scene) publishComponentEvent(eventType string, c Component) {
	s.publish(eventType, ComponentEventData{Scene: s, Component: c})
}

func (s *Scene) publishTagEvent(eventType string, n *Node, tag string) {
	s.publish(eventType, TagEventData{Scene: s, Node: n, Tag: tag})
}

func (s *Scene) publishUpdateEvent(eventType string, timeStep float32) {
	s.publish(eventType, UpdateEventData{Scene: s, TimeStep: timeStep})
}
