package opcua

import (
	"github.com/sebastiankruger/factory-twin/internal/event"
	"github.com/sebastiankruger/factory-twin/internal/simulator"
)

const (
	// EngineNamespace is the namespace index of the engine folder
	EngineNamespace uint16 = 2
	EngineFolder           = "SimulationEngine"
)

// EngineNodes are the variables published for the simulation engine
func EngineNodes() []NodeDefinition {
	return []NodeDefinition{
		{Name: "Mode", DisplayName: "Mode", Description: "Idle or Running", DataType: DataTypeString, InitialValue: "Idle"},
		{Name: "Variant", DisplayName: "Variant", Description: "scripted or realtime", DataType: DataTypeString, InitialValue: "scripted"},
		{Name: "ActiveStepId", DisplayName: "Active Step", Description: "Id of the active machine step", DataType: DataTypeString, InitialValue: ""},
		{Name: "StepProgress", DisplayName: "Step Progress", Description: "Progress of the active step 0-1", DataType: DataTypeDouble, InitialValue: 0.0},
		{Name: "ElapsedSeconds", DisplayName: "Elapsed Seconds", Description: "Seconds since the run started", DataType: DataTypeDouble, Unit: "s", InitialValue: 0.0},
		{Name: "StepCount", DisplayName: "Step Count", Description: "Number of steps in the loaded sequence", DataType: DataTypeInt32, InitialValue: int32(0)},
		{Name: "LastLot", DisplayName: "Last Lot", Description: "Lot number of the last run result", DataType: DataTypeString, InitialValue: ""},
		{Name: "LastStatus", DisplayName: "Last Status", Description: "Status of the last run result", DataType: DataTypeString, InitialValue: ""},
	}
}

// EngineValues maps a snapshot onto node values. The result nodes keep their
// previous value while no result is stored.
func EngineValues(snap simulator.Snapshot) map[string]interface{} {
	values := map[string]interface{}{
		"Mode":           snap.Mode,
		"Variant":        snap.Variant,
		"ActiveStepId":   snap.ActiveStepID,
		"StepProgress":   snap.StepProgress,
		"ElapsedSeconds": snap.ElapsedSeconds,
		"StepCount":      int32(len(snap.Steps)),
	}
	if snap.Result != nil {
		values["LastLot"] = snap.Result.LotNumber
		values["LastStatus"] = string(snap.Result.Status)
	}
	return values
}

// PublishEngine registers the engine namespace and mirrors every state
// change published on bus into it
func PublishEngine(s *Server, bus *event.Bus) (detach func()) {
	s.RegisterNamespace(EngineNamespace, EngineFolder, "Simulation engine state", EngineNodes())
	return event.Subscribe(bus, func(ev simulator.StateChanged) {
		s.UpdateNamespaceValues(EngineNamespace, EngineValues(ev.Snapshot))
	})
}
