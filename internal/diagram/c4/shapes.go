package c4

// ShapeStyle maps a C4 entity kind onto a D2 shape plus style properties.
// The fills follow the conventional C4 palette: blue tones darken with
// abstraction level, external entities go gray.
type ShapeStyle struct {
	Shape string
	Style map[string]string
}

// shapeTable is the static mapping from entity-constructor keywords
// (lowercased) to target descriptors. Pure data.
var shapeTable = map[string]ShapeStyle{
	"person": {
		Shape: "person",
		Style: map[string]string{"fill": "#08427b", "font-color": "#ffffff"},
	},
	"person_ext": {
		Shape: "person",
		Style: map[string]string{"fill": "#686868", "font-color": "#ffffff"},
	},
	"system": {
		Shape: "rectangle",
		Style: map[string]string{"fill": "#1168bd", "font-color": "#ffffff"},
	},
	"system_ext": {
		Shape: "rectangle",
		Style: map[string]string{"fill": "#999999", "font-color": "#ffffff"},
	},
	"systemdb": {
		Shape: "cylinder",
		Style: map[string]string{"fill": "#1168bd", "font-color": "#ffffff"},
	},
	"systemdb_ext": {
		Shape: "cylinder",
		Style: map[string]string{"fill": "#999999", "font-color": "#ffffff"},
	},
	"systemqueue": {
		Shape: "queue",
		Style: map[string]string{"fill": "#1168bd", "font-color": "#ffffff"},
	},
	"systemqueue_ext": {
		Shape: "queue",
		Style: map[string]string{"fill": "#999999", "font-color": "#ffffff"},
	},
	"container": {
		Shape: "rectangle",
		Style: map[string]string{"fill": "#438dd5", "font-color": "#ffffff"},
	},
	"container_ext": {
		Shape: "rectangle",
		Style: map[string]string{"fill": "#b3b3b3", "font-color": "#ffffff"},
	},
	"containerdb": {
		Shape: "cylinder",
		Style: map[string]string{"fill": "#438dd5", "font-color": "#ffffff"},
	},
	"containerqueue": {
		Shape: "queue",
		Style: map[string]string{"fill": "#438dd5", "font-color": "#ffffff"},
	},
	"component": {
		Shape: "rectangle",
		Style: map[string]string{"fill": "#85bbf0", "font-color": "#000000"},
	},
	"component_ext": {
		Shape: "rectangle",
		Style: map[string]string{"fill": "#cccccc", "font-color": "#000000"},
	},
	"componentdb": {
		Shape: "cylinder",
		Style: map[string]string{"fill": "#85bbf0", "font-color": "#000000"},
	},
	"componentqueue": {
		Shape: "queue",
		Style: map[string]string{"fill": "#85bbf0", "font-color": "#000000"},
	},
}

// EntityKinds lists every constructor keyword the shape table covers.
func EntityKinds() []string {
	kinds := make([]string, 0, len(shapeTable))
	for k := range shapeTable {
		kinds = append(kinds, k)
	}
	return kinds
}

// Lookup resolves an entity kind to its descriptor. Unknown kinds resolve
// to a plain rectangle: C4 dialects have non-exhaustive keyword sets and an
// unmapped constructor must not be fatal.
func Lookup(kind string) ShapeStyle {
	if s, ok := shapeTable[kind]; ok {
		return s
	}
	return ShapeStyle{Shape: "rectangle", Style: map[string]string{}}
}
