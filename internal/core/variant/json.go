package variant

import (
	"encoding/json"
	"fmt"

	"github.com/scenesync/scenesync/internal/core/hash"
)

// variantJSON is the JSON shape of a variant. Scalars carry a flat value
// string, containers nest.
type variantJSON struct {
	Type  string            `json:"type"`
	Value string            `json:"value,omitempty"`
	Items []Variant         `json:"items,omitempty"`
	Pairs []variantPairJSON `json:"pairs,omitempty"`
}

type variantPairJSON struct {
	Key   string  `json:"key"`
	Value Variant `json:"value"`
}

// MarshalJSON implements json.Marshaler. Map pairs are keyed by the hex
// name hash and ordered by it.
func (v Variant) MarshalJSON() ([]byte, error) {
	doc := variantJSON{Type: v.Type.String()}
	switch v.Type {
	case TypeMap:
		m := v.Map()
		doc.Pairs = make([]variantPairJSON, 0, len(m))
		for _, k := range sortedKeys(m) {
			doc.Pairs = append(doc.Pairs, variantPairJSON{Key: k.String(), Value: m[k]})
		}
	case TypeList:
		doc.Items = v.List()
	default:
		doc.Value = FormatValue(v)
	}
	return json.Marshal(doc)
}

// UnmarshalJSON implements json.Unmarshaler.
func (v *Variant) UnmarshalJSON(data []byte) error {
	var doc variantJSON
	if err := json.Unmarshal(data, &doc); err != nil {
		return err
	}
	t, ok := TypeFromName(doc.Type)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownType, doc.Type)
	}
	switch t {
	case TypeMap:
		m := make(Map, len(doc.Pairs))
		for _, p := range doc.Pairs {
			h, err := hash.ParseStringHash(p.Key)
			if err != nil {
				return fmt.Errorf("variant map key %q: %w", p.Key, err)
			}
			m[h] = p.Value
		}
		*v = FromMap(m)
	case TypeList:
		*v = FromList(List(doc.Items))
	default:
		parsed, err := ParseValue(t, doc.Value)
		if err != nil {
			return err
		}
		*v = parsed
	}
	return nil
}
