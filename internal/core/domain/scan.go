package domain

import (
	"errors"
	"time"
)

// ErrNotFound is returned by stores and the cluster manager when a record or
// resource does not exist.
var ErrNotFound = errors.New("not found")

type ScanProgress string

const (
	ScanProgressCreated    ScanProgress = "CREATED"
	ScanProgressInProgress ScanProgress = "IN_PROGRESS"
	ScanProgressError      ScanProgress = "ERROR"
	ScanProgressStopped    ScanProgress = "STOPPED"
)

// Terminal reports whether no further progress transition is expected.
func (p ScanProgress) Terminal() bool {
	return p == ScanProgressError || p == ScanProgressStopped
}

// Scan is one end-to-end execution of an agent group against a target asset.
// Rows are never deleted; ERROR and STOPPED scans remain as history.
type Scan struct {
	ID        string       `json:"id" gorm:"primaryKey"`
	Title     string       `json:"title"`
	Asset     string       `json:"asset"`
	Progress  ScanProgress `json:"progress"`
	CreatedAt time.Time    `json:"created_at"`
}

func (Scan) TableName() string {
	return "scans"
}

// ScanEvent is a stage-transition notification published while a scan is
// being orchestrated. Best-effort: consumers may miss events.
type ScanEvent struct {
	ScanID   string       `json:"scan_id"`
	Stage    string       `json:"stage"`
	Progress ScanProgress `json:"progress,omitempty"`
	Time     time.Time    `json:"time"`
}
