package scene

import (
	"github.com/sebastiankruger/factory-twin/internal/catalog"
	"github.com/sebastiankruger/factory-twin/internal/core"
)

// StaticHandle is a scene object with fixed bounds
type StaticHandle struct {
	Step   string
	Bounds Box3
}

func (h StaticHandle) StepID() string    { return h.Step }
func (h StaticHandle) WorldBounds() Box3 { return h.Bounds }

// FromCatalog builds one handle per catalog entry. Each model is a unit cube
// standing on its position, scaled by its scale. steps must be the registry
// steps built from the same entries, in the same order.
func FromCatalog(entries []catalog.ModelCatalogEntry, steps []core.MachineStep) *ObjectSet {
	set := NewObjectSet()
	for i, entry := range entries {
		if i >= len(steps) {
			break
		}

		pos := [3]float64{}
		if entry.Position != nil {
			pos = *entry.Position
		}
		scale := [3]float64{1, 1, 1}
		if entry.Scale != nil {
			scale = *entry.Scale
		}

		set.Add(steps[i].ID, StaticHandle{
			Step: steps[i].ID,
			Bounds: Box3{
				Min: Vec3{X: pos[0] - scale[0]/2, Y: pos[1], Z: pos[2] - scale[2]/2},
				Max: Vec3{X: pos[0] + scale[0]/2, Y: pos[1] + scale[1], Z: pos[2] + scale[2]/2},
			},
		})
	}
	return set
}

// DefaultViewport is the dashboard canvas size assumed without a renderer
var DefaultViewport = Viewport{Width: 1280, Height: 720}

// DefaultCamera overlooks a line of models laid out around the origin
func DefaultCamera() MatrixCamera {
	return NewPerspectiveCamera(Vec3{Y: 12, Z: 24}, Vec3{}, 50, DefaultViewport.Width/DefaultViewport.Height, 0.1, 500)
}
