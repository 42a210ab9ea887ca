package scene

import (
	"sort"
	"sync"

	"github.com/sebastiankruger/factory-twin/internal/core"
)

// Camera projects world-space points to normalized device coordinates.
// Points behind the camera must come back with |z| > 1.
type Camera interface {
	Project(p Vec3) Vec3
}

// MatrixCamera projects with a combined view-projection matrix
type MatrixCamera struct {
	ViewProjection Mat4
}

// NewPerspectiveCamera builds a camera at eye looking at target
func NewPerspectiveCamera(eye, target Vec3, fovY, aspect, near, far float64) MatrixCamera {
	view := LookAt(eye, target, Vec3{Y: 1})
	return MatrixCamera{ViewProjection: Perspective(fovY, aspect, near, far).Mul(view)}
}

func (c MatrixCamera) Project(p Vec3) Vec3 {
	x, y, z, w := c.ViewProjection.Transform(p)
	if w <= 0 {
		return Vec3{X: 0, Y: 0, Z: 2}
	}
	return Vec3{X: x / w, Y: y / w, Z: z / w}
}

// Viewport is the render target size in pixels
type Viewport struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Project returns the pixel position of the handle's top-center anchor, or
// false when it falls outside the viewport
func Project(h SceneHandle, cam Camera, vp Viewport) (x, y float64, ok bool) {
	ndc := cam.Project(h.WorldBounds().TopCenter())
	if ndc.Z < -1 || ndc.Z > 1 {
		return 0, 0, false
	}

	x = (ndc.X + 1) / 2 * vp.Width
	y = (1 - ndc.Y) / 2 * vp.Height
	if x < 0 || x > vp.Width || y < 0 || y > vp.Height {
		return 0, 0, false
	}
	return x, y, true
}

// Tooltip is a reading anchored above its machine on screen
type Tooltip struct {
	MachineName string             `json:"machineName"`
	ObjectID    string             `json:"objectId"`
	X           float64            `json:"x"`
	Y           float64            `json:"y"`
	Reading     core.SensorReading `json:"reading"`
	Fuzzy       bool               `json:"fuzzy,omitempty"`
}

// Tracker recomputes tooltip positions against the current camera
type Tracker struct {
	mu       sync.RWMutex
	resolver *Resolver
	objects  *ObjectSet
	camera   Camera
	viewport Viewport
}

func NewTracker(resolver *Resolver, objects *ObjectSet, camera Camera, viewport Viewport) *Tracker {
	return &Tracker{
		resolver: resolver,
		objects:  objects,
		camera:   camera,
		viewport: viewport,
	}
}

// SetView replaces the camera and viewport, e.g. after a resize
func (t *Tracker) SetView(camera Camera, viewport Viewport) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.camera = camera
	t.viewport = viewport
}

// Tooltip places a single reading. Unresolved or off-screen machines get
// no tooltip.
func (t *Tracker) Tooltip(r core.SensorReading) (Tooltip, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	m, ok := t.resolver.Resolve(r.MachineName, t.objects)
	if !ok {
		return Tooltip{}, false
	}
	x, y, visible := Project(m.Handle, t.camera, t.viewport)
	if !visible {
		return Tooltip{}, false
	}
	return Tooltip{
		MachineName: r.MachineName,
		ObjectID:    m.ObjectID,
		X:           x,
		Y:           y,
		Reading:     r,
		Fuzzy:       m.Fuzzy,
	}, true
}

// Tooltips places the latest reading of every machine, sorted by name
func (t *Tracker) Tooltips(latest map[string]core.SensorReading) []Tooltip {
	names := make([]string, 0, len(latest))
	for name := range latest {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]Tooltip, 0, len(names))
	for _, name := range names {
		if tip, ok := t.Tooltip(latest[name]); ok {
			out = append(out, tip)
		}
	}
	return out
}
