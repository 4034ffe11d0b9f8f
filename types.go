package main

import (
	"underpass.nl/heights/sink"
)

type Size struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// RunReport is printed at the end of the heights command.
type RunReport struct {
	RunID     string       `json:"run_id"`
	Estimator string       `json:"estimator"`
	OutputDir string       `json:"output_dir"`
	Items     int          `json:"items"`
	Summary   sink.Summary `json:"summary"`
	// Failed maps facade ids to the reason no estimate was made.
	Failed map[string]string `json:"failed,omitempty"`
}

// ProjectReport describes an overlay written by the project command.
type ProjectReport struct {
	ImageID string `json:"image_id"`
	Path    string `json:"path"`
	Size    Size   `json:"size"`
	Drawn   int    `json:"drawn"`
	// Skipped lists the facades that could not be projected in this image.
	Skipped []string `json:"skipped,omitempty"`
}

type FootprintReport struct {
	Path     string `json:"path"`
	Images   int    `json:"images"`
	Features int    `json:"features"`
}
