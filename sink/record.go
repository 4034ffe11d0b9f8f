// Package sink writes height records and footprints produced by a run.
package sink

import (
	"strconv"

	"github.com/google/uuid"
	"go.uber.org/multierr"
)

// Record is the height estimate of one facade seen from one image.
type Record struct {
	RunID         string  `json:"run_id"`
	FacadeID      string  `json:"facade_id"`
	ImageID       string  `json:"image_id"`
	FacadeIndex   int     `json:"facade_index"`
	FacadeHeight  float64 `json:"facade_height_m"`
	CeilingRow    int     `json:"ceiling_row"`
	CeilingHeight float64 `json:"ceiling_height_m"`
	LowConfidence bool    `json:"low_confidence"`
	Estimator     string  `json:"estimator"`
	Error         string  `json:"error,omitempty"`
}

// OK reports whether the record carries an estimate.
func (r Record) OK() bool {
	return r.Error == ""
}

var csvHeader = []string{
	"run_id", "facade_id", "image_id", "facade_index", "facade_height_m",
	"ceiling_row", "ceiling_height_m", "low_confidence", "estimator", "error",
}

func (r Record) csvRow() []string {
	return []string{
		r.RunID,
		r.FacadeID,
		r.ImageID,
		strconv.Itoa(r.FacadeIndex),
		strconv.FormatFloat(r.FacadeHeight, 'f', 3, 64),
		strconv.Itoa(r.CeilingRow),
		strconv.FormatFloat(r.CeilingHeight, 'f', 3, 64),
		strconv.FormatBool(r.LowConfidence),
		r.Estimator,
		r.Error,
	}
}

// NewRunID names a run; output files of the run are grouped under it.
func NewRunID() string {
	return uuid.New().String()
}

// Sink consumes records as they are produced. Write may be called concurrently.
type Sink interface {
	Write(rec Record) error
	Close() error
}

type multiSink []Sink

// Multi writes every record to all sinks.
func Multi(sinks ...Sink) Sink {
	return multiSink(sinks)
}

func (m multiSink) Write(rec Record) error {
	var err error
	for _, s := range m {
		err = multierr.Append(err, s.Write(rec))
	}
	return err
}

func (m multiSink) Close() error {
	var err error
	for _, s := range m {
		err = multierr.Append(err, s.Close())
	}
	return err
}
