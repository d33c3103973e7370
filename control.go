package main

import "fmt"

// Cross-context control surface: lets the campaign and extraction session be
// inspected and driven from outside their execution context. Every request
// gets a {success, data|error} response, never a panic.

type ControlRequest struct {
	Action string `json:"action"`
}

type ControlResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

const (
	ControlExportResults = "export_results"
	ControlClearResults  = "clear_results"
	ControlPauseExtract  = "pause_extraction"
	ControlResumeExtract = "resume_extraction"
	ControlCancelExtract = "cancel_extraction"
)

func HandleControl(extractor *Extractor, req ControlRequest) ControlResponse {
	if extractor == nil {
		return ControlResponse{Error: "no extraction session"}
	}
	switch req.Action {
	case ControlExportResults:
		return ControlResponse{Success: true, Data: extractor.Results()}
	case ControlClearResults:
		extractor.Clear()
		return ControlResponse{Success: true}
	case ControlPauseExtract:
		extractor.PauseScroll()
		return ControlResponse{Success: true}
	case ControlResumeExtract:
		extractor.ResumeScroll()
		return ControlResponse{Success: true}
	case ControlCancelExtract:
		extractor.Cancel()
		return ControlResponse{Success: true}
	default:
		return ControlResponse{Error: fmt.Sprintf("unknown action %q", req.Action)}
	}
}
