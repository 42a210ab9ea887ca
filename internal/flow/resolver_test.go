package flow

import (
	"testing"

	"github.com/sebastiankruger/factory-twin/internal/catalog"
	"github.com/sebastiankruger/factory-twin/internal/registry"
)

func testRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	reg, err := registry.Build([]catalog.ModelCatalogEntry{
		{ID: "mixer", Src: "/m/mixer.glb"},
		{ID: "oven", Src: "/m/oven.glb"},
		{ID: "mixer", Src: "/m/mixer.glb"},
		{ID: "packing", Src: "/m/packing.glb"},
	})
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	return reg
}

func strPtr(s string) *string { return &s }

func f64Ptr(f float64) *float64 { return &f }

func TestResolveExactAndBaseID(t *testing.T) {
	reg := testRegistry(t)
	def := catalog.ProductFlowDefinition{
		ProductID: "bread",
		Flow: []catalog.FlowEntry{
			{MachineID: "mixer-2"},
			{MachineID: "oven", Name: strPtr("Main Oven"), Duration: f64Ptr(30)},
			{MachineID: "mixer"},
		},
	}

	res := Resolve(def, reg)
	if len(res.Warnings) != 0 {
		t.Fatalf("unexpected warnings: %v", res.Warnings)
	}
	if len(res.Steps) != 3 {
		t.Fatalf("expected 3 steps, got %d", len(res.Steps))
	}
	if res.Steps[0].ID != "mixer-2" {
		t.Fatalf("exact id lookup failed: %s", res.Steps[0].ID)
	}
	if res.Steps[1].Name != "Main Oven" || res.Steps[1].Duration != 30 {
		t.Fatalf("overrides not applied: %+v", res.Steps[1])
	}
	if res.Steps[2].ID != "mixer" {
		t.Fatalf("base id should resolve to first occurrence, got %s", res.Steps[2].ID)
	}

	oven, _ := reg.ByID("oven")
	if oven.Name != "Oven" {
		t.Fatalf("registry step mutated: %+v", oven)
	}
}

func TestResolveDropsUnknownMachines(t *testing.T) {
	reg := testRegistry(t)
	def := catalog.ProductFlowDefinition{
		ProductID: "cake",
		Flow: []catalog.FlowEntry{
			{MachineID: "mixer"},
			{MachineID: "laser-cutter"},
			{MachineID: "packing"},
		},
	}

	res := Resolve(def, reg)
	if len(res.Steps) != 2 {
		t.Fatalf("expected 2 steps, got %d", len(res.Steps))
	}
	if len(res.Warnings) != 1 {
		t.Fatalf("expected 1 warning, got %v", res.Warnings)
	}
}

func TestResolveOnlyUnknownIsEmpty(t *testing.T) {
	reg := testRegistry(t)
	def := catalog.ProductFlowDefinition{
		ProductID: "ghost",
		Flow: []catalog.FlowEntry{
			{MachineID: "nope"},
			{MachineID: "also-nope"},
		},
	}

	res := Resolve(def, reg)
	if res.Usable() {
		t.Fatalf("expected unusable resolution")
	}
	if len(res.Steps) != 0 {
		t.Fatalf("expected empty steps, got %d", len(res.Steps))
	}
	if len(res.Warnings) != 2 {
		t.Fatalf("expected 2 warnings, got %d", len(res.Warnings))
	}
}

func TestResolveConditions(t *testing.T) {
	reg := testRegistry(t)
	def := catalog.ProductFlowDefinition{
		ProductID:     "bread",
		DefaultConfig: map[string]string{"glaze": "no"},
		Flow: []catalog.FlowEntry{
			{MachineID: "mixer"},
			{MachineID: "oven", When: `config.glaze == "yes"`},
			{MachineID: "packing", When: `config.missing`},
		},
	}

	res := Resolve(def, reg)
	if len(res.Steps) != 1 {
		t.Fatalf("expected only mixer, got %d steps", len(res.Steps))
	}
	if len(res.Warnings) != 1 {
		t.Fatalf("non-boolean condition should warn, got %v", res.Warnings)
	}

	res = ResolveWithConfig(def, reg, map[string]string{"glaze": "yes"})
	if len(res.Steps) != 2 || res.Steps[1].ID != "oven" {
		t.Fatalf("submitted values should enable oven, got %+v", res.Steps)
	}
}
