package scene

import (
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"

	"github.com/scenesync/scenesync/internal/core/attr"
	"github.com/scenesync/scenesync/internal/core/log"
)

// ResourceJob reports the progress of a background resource load.
type ResourceJob interface {
	// Progress returns loaded and total resource counts.
	Progress() (done, total int)
	// Finished reports whether the job has completed, successfully or not.
	Finished() bool
	// Err returns the first load error once finished, nil otherwise.
	Err() error
}

// ResourcePreloader starts background resource loads for async scene
// loading. The resource cache implements it; the scene only polls.
type ResourcePreloader interface {
	BackgroundLoad(names ...string) ResourceJob
}

type asyncPhase int

const (
	asyncPreloading asyncPhase = iota
	asyncInstantiating
)

// asyncLoader carries one in-flight async load. The scene header and the
// root's own state apply at start; the root's child subtrees commit one at
// a time inside the per-update time budget, each fully staged before it
// becomes visible.
type asyncLoader struct {
	id        string
	mode      LoadMode
	phase     asyncPhase
	doc       *sceneDocument
	job       ResourceJob
	resolver  *Resolver
	nextChild int

	loadedNodes     int
	totalNodes      int
	loadedResources int
	totalResources  int

	startTime time.Time
}

func (al *asyncLoader) progress() float32 {
	total := al.totalResources + al.totalNodes
	if total == 0 {
		return 1
	}
	return float32(al.loadedResources+al.loadedNodes) / float32(total)
}

// LoadAsync begins loading binary scene data over multiple frames.
// Malformed data fails immediately and leaves the scene untouched.
func (s *Scene) LoadAsync(r io.Reader, mode LoadMode) error {
	doc, err := parseBinaryScene(r)
	if err != nil {
		return err
	}
	return s.beginAsyncLoading(doc, mode)
}

// LoadAsyncJSON is LoadAsync for JSON data.
func (s *Scene) LoadAsyncJSON(r io.Reader, mode LoadMode) error {
	doc := new(sceneDocument)
	if err := json.NewDecoder(r).Decode(doc); err != nil {
		return fmt.Errorf("decode scene json: %w", err)
	}
	return s.beginAsyncLoading(doc, mode)
}

// LoadAsyncXML is LoadAsync for XML data.
func (s *Scene) LoadAsyncXML(r io.Reader, mode LoadMode) error {
	doc := new(sceneDocument)
	if err := xml.NewDecoder(r).Decode(doc); err != nil {
		return fmt.Errorf("decode scene xml: %w", err)
	}
	return s.beginAsyncLoading(doc, mode)
}

// IsAsyncLoading reports whether an async load is in progress.
func (s *Scene) IsAsyncLoading() bool { return s.async != nil }

// AsyncProgress returns the combined resource and node progress of the
// current or last async load, in [0, 1].
func (s *Scene) AsyncProgress() float32 { return s.asyncProgress }

// StopAsyncLoading aborts an async load, keeping the subtrees committed so
// far. No finished event is published.
func (s *Scene) StopAsyncLoading() error {
	if s.async == nil {
		return ErrAsyncNotActive
	}
	al := s.async
	s.async = nil
	if al.mode != LoadResourcesOnly {
		al.resolver.Resolve()
		applyAttributesRecursive(s.root)
	}
	s.logger.Info("async scene load stopped",
		log.String("job", al.id),
		log.Int("nodes", al.loadedNodes))
	return nil
}

func (s *Scene) beginAsyncLoading(doc *sceneDocument, mode LoadMode) error {
	if s.async != nil {
		return ErrAsyncInProgress
	}
	if doc.Version != sceneFormatVersion {
		return fmt.Errorf("%w: scene format %d", ErrUnsupportedVersion, doc.Version)
	}

	al := &asyncLoader{
		id:        uuid.NewString(),
		mode:      mode,
		phase:     asyncPreloading,
		doc:       doc,
		resolver:  NewResolver(),
		startTime: time.Now(),
	}

	if mode != LoadResourcesOnly {
		s.Clear(true, true)
		s.applyAttributeDocs(s, doc.Attributes, false)
		for _, vn := range doc.VarNames {
			s.RegisterVar(vn.Name)
		}
		al.resolver.AddNode(doc.Root.ID, s.root)
		s.applyAttributeDocs(s.root, doc.Root.Attributes, false)
		for i := range doc.Root.Components {
			if _, err := s.loadComponentDocument(s.root, &doc.Root.Components[i], al.resolver, false, Replicated, false); err != nil {
				return err
			}
		}
		al.totalNodes = len(doc.Root.Children)
	}

	if mode != LoadSceneOnly && s.resources != nil {
		if manifest := collectResourceRefs(&doc.Root, s.registry); len(manifest) > 0 {
			al.job = s.resources.BackgroundLoad(manifest...)
			al.totalResources = len(manifest)
		}
	}

	s.async = al
	s.asyncProgress = 0
	s.logger.Info("async scene load started",
		log.String("job", al.id),
		log.String("mode", mode.String()),
		log.Int("nodes", al.totalNodes),
		log.Int("resources", al.totalResources))
	return nil
}

// updateAsyncLoading advances the current async load. At least one child
// subtree commits per update even when the budget is already spent.
func (s *Scene) updateAsyncLoading() {
	al := s.async
	start := time.Now()

	if al.phase == asyncPreloading {
		if al.job != nil {
			done, total := al.job.Progress()
			al.loadedResources, al.totalResources = done, total
			if !al.job.Finished() {
				s.publishAsyncProgress()
				return
			}
			if err := al.job.Err(); err != nil {
				// Missing resources degrade the result, not the load.
				s.logger.Warn("resource preloading reported errors", log.Error(err))
			}
		}
		if al.mode == LoadResourcesOnly {
			s.finishAsyncLoading(nil)
			return
		}
		al.phase = asyncInstantiating
	}

	for al.nextChild < len(al.doc.Root.Children) {
		child := &al.doc.Root.Children[al.nextChild]
		if _, err := s.loadNodeDocument(s.root, child, al.resolver, false, Replicated, false); err != nil {
			s.finishAsyncLoading(err)
			return
		}
		al.nextChild++
		al.loadedNodes++
		if time.Since(start) >= s.asyncBudget {
			break
		}
	}
	if al.nextChild >= len(al.doc.Root.Children) {
		s.finishAsyncLoading(nil)
		return
	}
	s.publishAsyncProgress()
}

// finishAsyncLoading completes or aborts the load. Committed subtrees stay
// either way; references resolve across everything that loaded.
func (s *Scene) finishAsyncLoading(err error) {
	al := s.async
	s.async = nil

	if al.mode != LoadResourcesOnly {
		al.resolver.Resolve()
		applyAttributesRecursive(s.root)
	}

	duration := time.Since(al.startTime)
	eventType := EventAsyncLoadFinished
	if al.mode == LoadResourcesOnly {
		eventType = EventAsyncExecFinished
	}
	if err != nil {
		s.logger.Error("async scene load failed",
			log.String("job", al.id),
			log.Duration("duration", duration),
			log.Error(err))
	} else {
		s.asyncProgress = 1
		s.logger.Info("async scene load finished",
			log.String("job", al.id),
			log.Duration("duration", duration),
			log.Int("nodes", al.loadedNodes),
			log.Int("resources", al.loadedResources))
	}
	s.publish(eventType, AsyncEventData{
		Scene:           s,
		JobID:           al.id,
		Progress:        s.asyncProgress,
		LoadedNodes:     al.loadedNodes,
		TotalNodes:      al.totalNodes,
		LoadedResources: al.loadedResources,
		TotalResources:  al.totalResources,
		Err:             err,
	})
}

func (s *Scene) publishAsyncProgress() {
	al := s.async
	s.asyncProgress = al.progress()
	s.publish(EventAsyncLoadProgress, AsyncEventData{
		Scene:           s,
		JobID:           al.id,
		Progress:        s.asyncProgress,
		LoadedNodes:     al.loadedNodes,
		TotalNodes:      al.totalNodes,
		LoadedResources: al.loadedResources,
		TotalResources:  al.totalResources,
	})
}

// collectResourceRefs walks a node document and gathers the resource names
// referenced by component attributes flagged as resource references.
func collectResourceRefs(doc *nodeDocument, registry *Registry) []string {
	seen := make(map[string]struct{})
	var out []string
	var walk func(d *nodeDocument)
	walk = func(d *nodeDocument) {
		for i := range d.Components {
			cd := &d.Components[i]
			ti, ok := registry.LookupName(cd.Type)
			if !ok || ti.Table == nil {
				continue
			}
			for j := range cd.Attributes {
				ad := &cd.Attributes[j]
				idx, ok := ti.Table.ByName(ad.Name)
				if !ok || ti.Table.At(idx).Mode&attr.ModeResourceRef == 0 {
					continue
				}
				name := ad.Value.Str()
				if name == "" {
					continue
				}
				if _, dup := seen[name]; dup {
					continue
				}
				seen[name] = struct{}{}
				out = append(out, name)
			}
		}
		for i := range d.Children {
			walk(&d.Children[i])
		}
	}
	walk(doc)
	return out
}
