// Package scene implements a hierarchical scene graph: nodes with transforms
// and components, attribute-driven serialization in three formats, and the
// dirty-state bookkeeping that feeds network replication.
package scene

// Node and component IDs are 32-bit and partitioned into a replicated range,
// allocated on the server and mirrored to clients, and a local range that
// never leaves the process.
const (
	FirstReplicatedID uint32 = 0x1
	LastReplicatedID  uint32 = 0xffffff
	FirstLocalID      uint32 = 0x01000000
	LastLocalID       uint32 = 0xffffffff
)

// IsReplicatedID reports whether an ID belongs to the replicated range.
func IsReplicatedID(id uint32) bool {
	return id < FirstLocalID
}

// CreateMode selects the ID range for new nodes and components.
type CreateMode uint8

const (
	Replicated CreateMode = iota
	Local
)

func (m CreateMode) String() string {
	if m == Local {
		return "local"
	}
	return "replicated"
}

// TransformSpace selects the coordinate space of a transform modification.
type TransformSpace uint8

const (
	SpaceLocal TransformSpace = iota
	SpaceParent
	SpaceWorld
)

// LoadMode controls what an async load touches.
type LoadMode uint8

const (
	// LoadResourcesOnly preloads the resources a scene file references
	// without modifying the scene.
	LoadResourcesOnly LoadMode = iota
	// LoadSceneOnly replaces the scene content without preloading.
	LoadSceneOnly
	// LoadSceneAndResources preloads resources, then replaces the scene.
	LoadSceneAndResources
)

func (m LoadMode) String() string {
	switch m {
	case LoadResourcesOnly:
		return "resources-only"
	case LoadSceneOnly:
		return "scene-only"
	default:
		return "scene-and-resources"
	}
}

// Format selects a serialization format.
type Format uint8

const (
	FormatBinary Format = iota
	FormatJSON
	FormatXML
)

func (f Format) String() string {
	switch f {
	case FormatBinary:
		return "binary"
	case FormatJSON:
		return "json"
	case FormatXML:
		return "xml"
	default:
		return "unknown"
	}
}
