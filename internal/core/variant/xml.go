package variant

import (
	"encoding/xml"
	"fmt"

	"github.com/scenesync/scenesync/internal/core/hash"
)

// MarshalXML implements xml.Marshaler. A scalar becomes a single element
// with type and value attributes; a map nests pair elements keyed by the
// hex name hash, a list nests item elements.
func (v Variant) MarshalXML(e *xml.Encoder, start xml.StartElement) error {
	attrs := []xml.Attr{{Name: xml.Name{Local: "type"}, Value: v.Type.String()}}
	switch v.Type {
	case TypeMap:
		start.Attr = attrs
		if err := e.EncodeToken(start); err != nil {
			return err
		}
		m := v.Map()
		for _, k := range sortedKeys(m) {
			pair := xml.StartElement{
				Name: xml.Name{Local: "pair"},
				Attr: []xml.Attr{{Name: xml.Name{Local: "key"}, Value: k.String()}},
			}
			if err := e.EncodeToken(pair); err != nil {
				return err
			}
			if err := e.EncodeElement(m[k], xml.StartElement{Name: xml.Name{Local: "value"}}); err != nil {
				return err
			}
			if err := e.EncodeToken(pair.End()); err != nil {
				return err
			}
		}
		return e.EncodeToken(start.End())
	case TypeList:
		start.Attr = attrs
		if err := e.EncodeToken(start); err != nil {
			return err
		}
		for _, item := range v.List() {
			if err := e.EncodeElement(item, xml.StartElement{Name: xml.Name{Local: "item"}}); err != nil {
				return err
			}
		}
		return e.EncodeToken(start.End())
	default:
		start.Attr = append(attrs, xml.Attr{Name: xml.Name{Local: "value"}, Value: FormatValue(v)})
		if err := e.EncodeToken(start); err != nil {
			return err
		}
		return e.EncodeToken(start.End())
	}
}

// UnmarshalXML implements xml.Unmarshaler.
func (v *Variant) UnmarshalXML(d *xml.Decoder, start xml.StartElement) error {
	var typeName, value string
	for _, a := range start.Attr {
		switch a.Name.Local {
		case "type":
			typeName = a.Value
		case "value":
			value = a.Value
		}
	}
	t, ok := TypeFromName(typeName)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownType, typeName)
	}

	switch t {
	case TypeMap:
		m := make(Map)
		for {
			tok, err := d.Token()
			if err != nil {
				return err
			}
			switch el := tok.(type) {
			case xml.StartElement:
				if el.Name.Local != "pair" {
					if err := d.Skip(); err != nil {
						return err
					}
					continue
				}
				if err := unmarshalPair(d, el, m); err != nil {
					return err
				}
			case xml.EndElement:
				*v = FromMap(m)
				return nil
			}
		}
	case TypeList:
		var l List
		for {
			tok, err := d.Token()
			if err != nil {
				return err
			}
			switch el := tok.(type) {
			case xml.StartElement:
				var item Variant
				if err := item.UnmarshalXML(d, el); err != nil {
					return err
				}
				l = append(l, item)
			case xml.EndElement:
				*v = FromList(l)
				return nil
			}
		}
	default:
		parsed, err := ParseValue(t, value)
		if err != nil {
			return err
		}
		*v = parsed
		return d.Skip()
	}
}

// unmarshalPair consumes one pair element holding a single nested value.
func unmarshalPair(d *xml.Decoder, start xml.StartElement, m Map) error {
	var key string
	for _, a := range start.Attr {
		if a.Name.Local == "key" {
			key = a.Value
		}
	}
	h, err := hash.ParseStringHash(key)
	if err != nil {
		return fmt.Errorf("variant map key %q: %w", key, err)
	}
	for {
		tok, err := d.Token()
		if err != nil {
			return err
		}
		switch el := tok.(type) {
		case xml.StartElement:
			var inner Variant
			if err := inner.UnmarshalXML(d, el); err != nil {
				return err
			}
			m[h] = inner
		case xml.EndElement:
			return nil
		}
	}
}
