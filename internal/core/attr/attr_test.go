package attr

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scenesync/scenesync/internal/core/variant"
)

type widget struct {
	size    int32
	label   string
	speed   float32
	ownerID int32
}

func widgetTable() *Table {
	return NewTable(
		Accessor[widget]("Size", variant.TypeInt, ModeDefault, variant.Int(1),
			func(w *widget) variant.Variant { return variant.Int(w.size) },
			func(w *widget, v variant.Variant) { w.size = v.Int() }),
		Accessor[widget]("Label", variant.TypeString, ModeFile, variant.String(""),
			func(w *widget) variant.Variant { return variant.String(w.label) },
			func(w *widget, v variant.Variant) { w.label = v.Str() }),
		Accessor[widget]("Speed", variant.TypeFloat, ModeNet|ModeLatestData, variant.Float(0),
			func(w *widget) variant.Variant { return variant.Float(w.speed) },
			func(w *widget, v variant.Variant) { w.speed = v.Float() }),
		Accessor[widget]("Owner", variant.TypeInt, ModeDefault|ModeNodeID, variant.Int(0),
			func(w *widget) variant.Variant { return variant.Int(w.ownerID) },
			func(w *widget, v variant.Variant) { w.ownerID = v.Int() }),
	)
}

func TestTable_Lookup(t *testing.T) {
	tbl := widgetTable()
	require.Equal(t, 4, tbl.Len())

	i, ok := tbl.ByName("Label")
	require.True(t, ok)
	assert.Equal(t, "Label", tbl.At(i).Name)

	_, ok = tbl.ByName("Missing")
	assert.False(t, ok)
}

func TestTable_NetworkSubset(t *testing.T) {
	tbl := widgetTable()
	net := tbl.Network()
	require.Len(t, net, 3)
	assert.Equal(t, "Size", tbl.At(net[0]).Name)
	assert.Equal(t, "Speed", tbl.At(net[1]).Name)
	assert.Equal(t, "Owner", tbl.At(net[2]).Name)
}

func TestAccessor_TypedDispatch(t *testing.T) {
	tbl := widgetTable()
	w := &widget{}

	i, _ := tbl.ByName("Size")
	tbl.At(i).Set(w, variant.Int(42))
	assert.Equal(t, int32(42), w.size)
	assert.Equal(t, int32(42), tbl.At(i).Get(w).Int())

	i, _ = tbl.ByName("Speed")
	tbl.At(i).Set(w, variant.Float(2.5))
	assert.Equal(t, float32(2.5), w.speed)
}

func TestNilTable_SafeAccess(t *testing.T) {
	var tbl *Table
	assert.Equal(t, 0, tbl.Len())
	assert.Nil(t, tbl.Network())
	_, ok := tbl.ByName("x")
	assert.False(t, ok)
}
