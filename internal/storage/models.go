package storage

import (
	"time"

	"github.com/google/uuid"
)

const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
)

// Run is one invocation of the sweep tool
type Run struct {
	ID        uuid.UUID
	StartTime time.Time
	EndTime   *time.Time
	Resource  string
	Identity  *string
	Status    string
	Config    *string
}

// Waveform describes a generated waveform file
type Waveform struct {
	Channel    int // 0 for the combined waveform
	Kind       string
	Index      int
	SweepValue *float64
	Samples    int
	File       string
	RemoteFile string
}

// Point is a stored sweep cycle
type Point struct {
	Channel         int
	Index           int
	Label           string
	File            string
	Amplitude       float64
	ActualAmplitude *float64
	StartTime       time.Time
	EndTime         time.Time
	Error           *string
}

// Failed reports whether the cycle recorded a fault
func (p *Point) Failed() bool {
	return p.Error != nil
}
