package model

import (
	"fmt"
)

// DefaultComponents is the canonical component set of the vehicle template:
// four wheels and the body, in the order they are resolved.
var DefaultComponents = []string{"FL", "FR", "RL", "RR", "mainBody"}

// DefaultMovable lists the components whose centroid drives a rotating
// wall boundary condition.
var DefaultMovable = []string{"FL", "FR", "RL", "RR"}

// ComponentMapping binds each canonical component name to a source mesh file.
type ComponentMapping map[string]string

// Missing returns the names in components that have no file bound,
// preserving the order of components.
func (m ComponentMapping) Missing(components []string) []string {
	var missing []string
	for _, name := range components {
		if m[name] == "" {
			missing = append(missing, name)
		}
	}
	return missing
}

// Complete reports whether every name in components is bound.
func (m ComponentMapping) Complete(components []string) bool {
	return len(m.Missing(components)) == 0
}

// Vec3 is a point in model space.
type Vec3 [3]float64

// OriginLiteral formats v as an OpenFOAM vector literal. The first
// coordinate carries 8 decimals and the other two carry 6; downstream
// dictionaries are compared against this exact text.
func (v Vec3) OriginLiteral() string {
	return fmt.Sprintf("(%.8f %.6f %.6f)", v[0], v[1], v[2])
}

// SurfaceGeometryRecord is the centroid of one movable component's mesh.
type SurfaceGeometryRecord struct {
	Component string `json:"component"`
	Centroid  Vec3   `json:"centroid"`
}

// CoefficientSample is the latest row of the force coefficient table.
type CoefficientSample struct {
	Time float64 `json:"time"`
	Cd   float64 `json:"cd"`
	Cl   float64 `json:"cl"`
	Cm   float64 `json:"cm"`
}
