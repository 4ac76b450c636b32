package scene

import (
	"encoding/binary"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io"
	"sort"

	"github.com/scenesync/scenesync/internal/core/attr"
	"github.com/scenesync/scenesync/internal/core/hash"
	"github.com/scenesync/scenesync/internal/core/log"
	"github.com/scenesync/scenesync/internal/core/spatial"
	"github.com/scenesync/scenesync/internal/core/variant"
)

// BinaryMagic starts every binary scene file.
const BinaryMagic = "USCN"

const sceneFormatVersion = 1

// Decoding limits for binary scene data.
const (
	maxStringLen    = 1 << 20
	maxChildCount   = 1 << 20
	maxVarNameCount = 1 << 20
	maxNodeDepth    = 1000
)

// Document structs shared by all three formats. JSON and XML marshal them
// directly; the binary format walks them with the writers below. Saving
// builds documents from the attribute tables, skipping attributes at their
// effective default and everything temporary.

type sceneDocument struct {
	XMLName    xml.Name            `xml:"scene" json:"-"`
	Version    uint32              `xml:"version,attr" json:"version"`
	Attributes []attributeDocument `xml:"attribute" json:"attributes,omitempty"`
	VarNames   []varNameDocument   `xml:"varname" json:"varNames,omitempty"`
	Root       nodeDocument        `xml:"node" json:"root"`
}

type nodeDocument struct {
	XMLName    xml.Name            `xml:"node" json:"-"`
	ID         uint32              `xml:"id,attr" json:"id"`
	Attributes []attributeDocument `xml:"attribute" json:"attributes,omitempty"`
	Components []componentDocument `xml:"component" json:"components,omitempty"`
	Children   []nodeDocument      `xml:"node" json:"children,omitempty"`
}

type componentDocument struct {
	Type       string              `xml:"type,attr" json:"type"`
	ID         uint32              `xml:"id,attr" json:"id"`
	Attributes []attributeDocument `xml:"attribute" json:"attributes,omitempty"`
}

type attributeDocument struct {
	Name  string          `xml:"name,attr" json:"name"`
	Value variant.Variant `xml:"value" json:"value"`
}

type varNameDocument struct {
	Hash string `xml:"hash,attr" json:"hash"`
	Name string `xml:"name,attr" json:"name"`
}

// Document building

func buildAttributeDocs(obj Serializable) []attributeDocument {
	table := obj.Attributes()
	var out []attributeDocument
	for i := 0; i < table.Len(); i++ {
		info := table.At(i)
		if info.Mode&attr.ModeFile == 0 {
			continue
		}
		value := info.Get(obj)
		if value.Equals(EffectiveDefault(obj, info)) {
			continue
		}
		out = append(out, attributeDocument{Name: info.Name, Value: value})
	}
	return out
}

func buildNodeDocument(n *Node) *nodeDocument {
	doc := &nodeDocument{ID: n.id, Attributes: buildAttributeDocs(n)}
	for _, c := range n.components {
		if c.AsSerializable().Temporary() {
			continue
		}
		doc.Components = append(doc.Components, buildComponentDocument(c))
	}
	for _, child := range n.children {
		if child.Temporary() {
			continue
		}
		doc.Children = append(doc.Children, *buildNodeDocument(child))
	}
	return doc
}

func buildComponentDocument(c Component) componentDocument {
	doc := componentDocument{Type: c.TypeName(), ID: c.ID()}
	if uc, ok := c.(*UnknownComponent); ok {
		// Unknown components re-save exactly what they were loaded with.
		for _, sa := range uc.SavedAttributes() {
			doc.Attributes = append(doc.Attributes, attributeDocument{Name: sa.Name, Value: sa.Value})
		}
		return doc
	}
	doc.Attributes = buildAttributeDocs(c)
	return doc
}

func (s *Scene) buildSceneDocument() *sceneDocument {
	doc := &sceneDocument{
		Version:    sceneFormatVersion,
		Attributes: buildAttributeDocs(s),
	}
	hashes := make([]hash.StringHash, 0, len(s.varNames))
	for h := range s.varNames {
		hashes = append(hashes, h)
	}
	sort.Slice(hashes, func(i, j int) bool { return hashes[i].Value() < hashes[j].Value() })
	for _, h := range hashes {
		doc.VarNames = append(doc.VarNames, varNameDocument{Hash: h.String(), Name: s.varNames[h]})
	}
	doc.Root = *buildNodeDocument(s.root)
	return doc
}

// Document application

func modeFromID(id uint32) CreateMode {
	if id != 0 && !IsReplicatedID(id) {
		return Local
	}
	return Replicated
}

// rewriteMode picks the ID range for an object receiving a fresh ID:
// local source IDs stay local, replicated ones follow the requested mode.
func rewriteMode(docID uint32, requested CreateMode) CreateMode {
	if requested == Replicated && (docID == 0 || IsReplicatedID(docID)) {
		return Replicated
	}
	return Local
}

// applyAttributeDocs writes loaded attribute values through the table.
// Unknown names and type mismatches are skipped with a warning so files
// from older schemas still load.
func (s *Scene) applyAttributeDocs(obj Serializable, docs []attributeDocument, storeDefaults bool) {
	table := obj.Attributes()
	for i := range docs {
		ad := &docs[i]
		idx, ok := table.ByName(ad.Name)
		if !ok {
			s.logger.Warn("skipping unknown attribute", log.String("attribute", ad.Name))
			continue
		}
		info := table.At(idx)
		if ad.Value.Type != info.Type {
			s.logger.Warn("attribute type mismatch",
				log.String("attribute", ad.Name),
				log.String("want", info.Type.String()),
				log.String("got", ad.Value.Type.String()))
			continue
		}
		info.Set(obj, ad.Value)
		if storeDefaults {
			obj.AsSerializable().SetInstanceDefault(ad.Name, ad.Value)
		}
	}
}

// loadNodeDocument creates a child of parent from a document. With
// rewriteIDs false the source IDs are kept when free; otherwise fresh IDs
// come from the range selected by rewriteMode. A failed subtree removes
// itself before returning.
func (s *Scene) loadNodeDocument(parent *Node, doc *nodeDocument, resolver *Resolver,
	rewriteIDs bool, mode CreateMode, storeDefaults bool) (*Node, error) {

	id := doc.ID
	effMode := modeFromID(id)
	if rewriteIDs {
		id = 0
		effMode = rewriteMode(doc.ID, mode)
	}
	child, err := parent.createChild("", effMode, id, false)
	if err != nil {
		return nil, err
	}
	resolver.AddNode(doc.ID, child)
	s.applyAttributeDocs(child, doc.Attributes, storeDefaults)

	for i := range doc.Components {
		if _, err := s.loadComponentDocument(child, &doc.Components[i], resolver, rewriteIDs, mode, storeDefaults); err != nil {
			child.Remove()
			return nil, err
		}
	}
	for i := range doc.Children {
		if _, err := s.loadNodeDocument(child, &doc.Children[i], resolver, rewriteIDs, mode, storeDefaults); err != nil {
			child.Remove()
			return nil, err
		}
	}
	return child, nil
}

func (s *Scene) loadComponentDocument(n *Node, doc *componentDocument, resolver *Resolver,
	rewriteIDs bool, mode CreateMode, storeDefaults bool) (Component, error) {

	c, known := s.registry.Create(doc.Type)
	if !known {
		s.logger.Warn("unknown component type, preserving raw attributes",
			log.String("type", doc.Type))
		uc := NewUnknownComponent(doc.Type)
		saved := make([]SavedAttribute, len(doc.Attributes))
		for i, ad := range doc.Attributes {
			saved[i] = SavedAttribute{Name: ad.Name, Value: ad.Value.Clone()}
		}
		uc.setSavedAttributes(saved)
		c = uc
	}

	id := doc.ID
	effMode := modeFromID(id)
	if rewriteIDs {
		id = 0
		effMode = rewriteMode(doc.ID, mode)
	}
	if err := n.addComponent(c, effMode, id); err != nil {
		return nil, err
	}
	resolver.AddComponent(doc.ID, c)
	if known {
		s.applyAttributeDocs(c, doc.Attributes, storeDefaults)
	}
	return c, nil
}

// applySceneDocument replaces the scene content with a parsed document.
func (s *Scene) applySceneDocument(doc *sceneDocument) error {
	if doc.Version != sceneFormatVersion {
		return fmt.Errorf("%w: scene format %d", ErrUnsupportedVersion, doc.Version)
	}
	if s.async != nil {
		_ = s.StopAsyncLoading()
	}
	s.Clear(true, true)

	s.applyAttributeDocs(s, doc.Attributes, false)
	for _, vn := range doc.VarNames {
		s.RegisterVar(vn.Name)
	}

	resolver := NewResolver()
	resolver.AddNode(doc.Root.ID, s.root)
	s.applyAttributeDocs(s.root, doc.Root.Attributes, false)
	for i := range doc.Root.Components {
		if _, err := s.loadComponentDocument(s.root, &doc.Root.Components[i], resolver, false, Replicated, false); err != nil {
			return err
		}
	}
	for i := range doc.Root.Children {
		if _, err := s.loadNodeDocument(s.root, &doc.Root.Children[i], resolver, false, Replicated, false); err != nil {
			return err
		}
	}
	resolver.Resolve()
	applyAttributesRecursive(s.root)

	s.logger.Info("scene loaded",
		log.Int("nodes", s.NodeCount()),
		log.Int("components", s.ComponentCount()))
	return nil
}

// applyNodeDocument replaces this node's components and children with the
// document content, keeping the node's own identity.
func (n *Node) applyNodeDocument(doc *nodeDocument) error {
	if n.scene == nil {
		return ErrDetached
	}
	s := n.scene
	n.RemoveAllChildren()
	n.RemoveAllComponents()

	resolver := NewResolver()
	resolver.AddNode(doc.ID, n)
	s.applyAttributeDocs(n, doc.Attributes, false)
	for i := range doc.Components {
		if _, err := s.loadComponentDocument(n, &doc.Components[i], resolver, false, Replicated, false); err != nil {
			return err
		}
	}
	for i := range doc.Children {
		if _, err := s.loadNodeDocument(n, &doc.Children[i], resolver, false, Replicated, false); err != nil {
			return err
		}
	}
	resolver.Resolve()
	applyAttributesRecursive(n)
	return nil
}

// Scene formats

// Save writes the scene in the binary format.
func (s *Scene) Save(w io.Writer) error {
	return writeBinaryScene(w, s.buildSceneDocument())
}

// SaveJSON writes the scene as indented JSON.
func (s *Scene) SaveJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(s.buildSceneDocument())
}

// SaveXML writes the scene as indented XML.
func (s *Scene) SaveXML(w io.Writer) error {
	return writeXML(w, s.buildSceneDocument())
}

// Load replaces the scene content from binary data. An async load in
// progress is stopped first.
func (s *Scene) Load(r io.Reader) error {
	doc, err := parseBinaryScene(r)
	if err != nil {
		return err
	}
	return s.applySceneDocument(doc)
}

// LoadJSON replaces the scene content from JSON data.
func (s *Scene) LoadJSON(r io.Reader) error {
	doc := new(sceneDocument)
	if err := json.NewDecoder(r).Decode(doc); err != nil {
		return fmt.Errorf("decode scene json: %w", err)
	}
	return s.applySceneDocument(doc)
}

// LoadXML replaces the scene content from XML data.
func (s *Scene) LoadXML(r io.Reader) error {
	doc := new(sceneDocument)
	if err := xml.NewDecoder(r).Decode(doc); err != nil {
		return fmt.Errorf("decode scene xml: %w", err)
	}
	return s.applySceneDocument(doc)
}

// Node formats

// Save writes the node subtree in the binary format.
func (n *Node) Save(w io.Writer) error {
	bw := &binWriter{w: w}
	writeBinaryNodeDoc(bw, buildNodeDocument(n))
	return bw.err
}

// SaveJSON writes the node subtree as indented JSON.
func (n *Node) SaveJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(buildNodeDocument(n))
}

// SaveXML writes the node subtree as indented XML.
func (n *Node) SaveXML(w io.Writer) error {
	return writeXML(w, buildNodeDocument(n))
}

// Load replaces this node's components and children from binary data.
// Source IDs are kept when free. The node must be scene-attached.
func (n *Node) Load(r io.Reader) error {
	br := &binReader{r: r}
	doc := readBinaryNodeDoc(br, 0)
	if br.err != nil {
		return br.err
	}
	return n.applyNodeDocument(doc)
}

// LoadJSON replaces this node's components and children from JSON data.
func (n *Node) LoadJSON(r io.Reader) error {
	doc := new(nodeDocument)
	if err := json.NewDecoder(r).Decode(doc); err != nil {
		return fmt.Errorf("decode node json: %w", err)
	}
	return n.applyNodeDocument(doc)
}

// LoadXML replaces this node's components and children from XML data.
func (n *Node) LoadXML(r io.Reader) error {
	doc := new(nodeDocument)
	if err := xml.NewDecoder(r).Decode(doc); err != nil {
		return fmt.Errorf("decode node xml: %w", err)
	}
	return n.applyNodeDocument(doc)
}

// Instantiation

// Instantiate loads a binary node subtree as a child of the root with
// fresh IDs, placing it at the given transform. Loaded attribute values
// become the subtree's instance defaults so later saves diff against the
// prefab state.
func (s *Scene) Instantiate(r io.Reader, position spatial.Vector3, rotation spatial.Quaternion, mode CreateMode) (*Node, error) {
	br := &binReader{r: r}
	doc := readBinaryNodeDoc(br, 0)
	if br.err != nil {
		return nil, br.err
	}
	return s.instantiateDocument(doc, position, rotation, mode)
}

// InstantiateJSON is Instantiate for JSON data.
func (s *Scene) InstantiateJSON(r io.Reader, position spatial.Vector3, rotation spatial.Quaternion, mode CreateMode) (*Node, error) {
	doc := new(nodeDocument)
	if err := json.NewDecoder(r).Decode(doc); err != nil {
		return nil, fmt.Errorf("decode node json: %w", err)
	}
	return s.instantiateDocument(doc, position, rotation, mode)
}

// InstantiateXML is Instantiate for XML data.
func (s *Scene) InstantiateXML(r io.Reader, position spatial.Vector3, rotation spatial.Quaternion, mode CreateMode) (*Node, error) {
	doc := new(nodeDocument)
	if err := xml.NewDecoder(r).Decode(doc); err != nil {
		return nil, fmt.Errorf("decode node xml: %w", err)
	}
	return s.instantiateDocument(doc, position, rotation, mode)
}

func (s *Scene) instantiateDocument(doc *nodeDocument, position spatial.Vector3, rotation spatial.Quaternion, mode CreateMode) (*Node, error) {
	resolver := NewResolver()
	node, err := s.loadNodeDocument(s.root, doc, resolver, true, mode, true)
	if err != nil {
		return nil, err
	}
	resolver.Resolve()
	node.SetPosition(position)
	node.SetRotation(rotation)
	applyAttributesRecursive(node)
	return node, nil
}

// Binary layer

func writeXML(w io.Writer, doc any) error {
	out, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	if _, err := io.WriteString(w, xml.Header); err != nil {
		return err
	}
	if _, err := w.Write(out); err != nil {
		return err
	}
	_, err = w.Write([]byte{'\n'})
	return err
}

// binWriter and binReader carry a sticky error so document walks read
// linearly.
type binWriter struct {
	w   io.Writer
	err error
}

func (bw *binWriter) raw(b []byte) {
	if bw.err != nil {
		return
	}
	_, bw.err = bw.w.Write(b)
}

func (bw *binWriter) u8(v uint8) { bw.raw([]byte{v}) }

func (bw *binWriter) u32(v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	bw.raw(b[:])
}

func (bw *binWriter) u64(v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	bw.raw(b[:])
}

func (bw *binWriter) str(s string) {
	bw.u32(uint32(len(s)))
	bw.raw([]byte(s))
}

func (bw *binWriter) variant(v variant.Variant) {
	if bw.err != nil {
		return
	}
	bw.err = variant.Write(bw.w, v)
}

type binReader struct {
	r   io.Reader
	err error
}

func (br *binReader) raw(b []byte) {
	if br.err != nil {
		return
	}
	_, br.err = io.ReadFull(br.r, b)
}

func (br *binReader) u8() uint8 {
	var b [1]byte
	br.raw(b[:])
	return b[0]
}

func (br *binReader) u32() uint32 {
	var b [4]byte
	br.raw(b[:])
	return binary.LittleEndian.Uint32(b[:])
}

func (br *binReader) u64() uint64 {
	var b [8]byte
	br.raw(b[:])
	return binary.LittleEndian.Uint64(b[:])
}

func (br *binReader) str() string {
	n := br.u32()
	if br.err != nil {
		return ""
	}
	if n > maxStringLen {
		br.fail(fmt.Errorf("%w: string of %d bytes", ErrMalformedData, n))
		return ""
	}
	b := make([]byte, n)
	br.raw(b)
	return string(b)
}

func (br *binReader) variant() variant.Variant {
	if br.err != nil {
		return variant.None
	}
	v, err := variant.Read(br.r)
	if err != nil {
		br.err = err
		return variant.None
	}
	return v
}

func (br *binReader) fail(err error) {
	if br.err == nil {
		br.err = err
	}
}

func writeAttrBlock(bw *binWriter, docs []attributeDocument) {
	if len(docs) > 255 {
		bw.err = fmt.Errorf("attribute count %d exceeds format limit", len(docs))
		return
	}
	bw.u8(uint8(len(docs)))
	for i := range docs {
		bw.str(docs[i].Name)
		bw.variant(docs[i].Value)
	}
}

func readAttrBlock(br *binReader) []attributeDocument {
	count := br.u8()
	if count == 0 || br.err != nil {
		return nil
	}
	out := make([]attributeDocument, 0, count)
	for i := 0; i < int(count); i++ {
		name := br.str()
		value := br.variant()
		if br.err != nil {
			return nil
		}
		out = append(out, attributeDocument{Name: name, Value: value})
	}
	return out
}

func writeBinaryNodeDoc(bw *binWriter, doc *nodeDocument) {
	bw.u32(doc.ID)
	writeAttrBlock(bw, doc.Attributes)
	bw.u32(uint32(len(doc.Components)))
	for i := range doc.Components {
		cd := &doc.Components[i]
		bw.str(cd.Type)
		bw.u32(cd.ID)
		writeAttrBlock(bw, cd.Attributes)
	}
	bw.u32(uint32(len(doc.Children)))
	for i := range doc.Children {
		writeBinaryNodeDoc(bw, &doc.Children[i])
	}
}

func readBinaryNodeDoc(br *binReader, depth int) *nodeDocument {
	if depth > maxNodeDepth {
		br.fail(fmt.Errorf("%w: node nesting deeper than %d", ErrMalformedData, maxNodeDepth))
		return nil
	}
	doc := &nodeDocument{}
	doc.ID = br.u32()
	doc.Attributes = readAttrBlock(br)

	compCount := br.u32()
	if compCount > maxChildCount {
		br.fail(fmt.Errorf("%w: %d components", ErrMalformedData, compCount))
		return nil
	}
	for i := uint32(0); i < compCount && br.err == nil; i++ {
		cd := componentDocument{}
		cd.Type = br.str()
		cd.ID = br.u32()
		cd.Attributes = readAttrBlock(br)
		doc.Components = append(doc.Components, cd)
	}

	childCount := br.u32()
	if childCount > maxChildCount {
		br.fail(fmt.Errorf("%w: %d children", ErrMalformedData, childCount))
		return nil
	}
	for i := uint32(0); i < childCount && br.err == nil; i++ {
		if child := readBinaryNodeDoc(br, depth+1); child != nil {
			doc.Children = append(doc.Children, *child)
		}
	}
	if br.err != nil {
		return nil
	}
	return doc
}

func writeBinaryScene(w io.Writer, doc *sceneDocument) error {
	bw := &binWriter{w: w}
	bw.raw([]byte(BinaryMagic))
	bw.u32(doc.Version)
	writeAttrBlock(bw, doc.Attributes)
	bw.u32(uint32(len(doc.VarNames)))
	for _, vn := range doc.VarNames {
		bw.u64(hash.NewStringHash(vn.Name).Value())
		bw.str(vn.Name)
	}
	writeBinaryNodeDoc(bw, &doc.Root)
	return bw.err
}

func parseBinaryScene(r io.Reader) (*sceneDocument, error) {
	br := &binReader{r: r}
	var magic [4]byte
	br.raw(magic[:])
	if br.err != nil {
		return nil, br.err
	}
	if string(magic[:]) != BinaryMagic {
		return nil, fmt.Errorf("%w: bad magic %q", ErrMalformedData, magic[:])
	}
	doc := &sceneDocument{}
	doc.Version = br.u32()
	doc.Attributes = readAttrBlock(br)

	count := br.u32()
	if count > maxVarNameCount {
		br.fail(fmt.Errorf("%w: %d variable names", ErrMalformedData, count))
	}
	for i := uint32(0); i < count && br.err == nil; i++ {
		h := br.u64()
		name := br.str()
		doc.VarNames = append(doc.VarNames, varNameDocument{Hash: hash.StringHash(h).String(), Name: name})
	}

	if root := readBinaryNodeDoc(br, 0); root != nil {
		doc.Root = *root
	}
	if br.err != nil {
		return nil, br.err
	}
	return doc, nil
}
