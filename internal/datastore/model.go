// model.go this code defines the data model for the application
package datastore

import "time"

// RecordingStatus is the processing state of an uploaded recording.
type RecordingStatus string

const (
	StatusPending    RecordingStatus = "pending"
	StatusProcessing RecordingStatus = "processing"
	StatusCompleted  RecordingStatus = "completed"
	StatusFailed     RecordingStatus = "failed"
)

// allowedTransitions is the recording state machine. Terminal states have no entry.
var allowedTransitions = map[RecordingStatus][]RecordingStatus{
	StatusPending:    {StatusProcessing, StatusFailed},
	StatusProcessing: {StatusCompleted, StatusFailed},
}

// Valid reports whether s is a known status.
func (s RecordingStatus) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// Terminal reports whether no transition out of s is allowed.
func (s RecordingStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// CanTransitionTo reports whether moving from s to next follows the state machine.
func (s RecordingStatus) CanTransitionTo(next RecordingStatus) bool {
	for _, allowed := range allowedTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Recording is one uploaded audio file and its processing lifecycle.
type Recording struct {
	ID                uint            `gorm:"primaryKey"`
	FileName          string          `gorm:"size:255;not null"`
	RecordingDatetime *time.Time      `gorm:"index"` // nil when the file name carries no timestamp
	DurationSec       *float64        // read from the WAV header when available
	Lat               float64         `gorm:"not null"`
	Lon               float64         `gorm:"not null"`
	Status            RecordingStatus `gorm:"type:varchar(20);index;not null;default:pending"`
	CreatedAt         time.Time       `gorm:"index"`
	CompletedAt       *time.Time      // set only on completion
	ErrorMessage      *string         `gorm:"type:text"` // set only on failure
	Detections        []Detection     `gorm:"foreignKey:RecordingID;constraint:OnDelete:CASCADE"`
}

// Detection is one species event located within a Recording.
type Detection struct {
	ID             uint       `gorm:"primaryKey"`
	RecordingID    uint       `gorm:"index;not null"`
	Recording      *Recording `gorm:"foreignKey:RecordingID"`
	DetectionTime  time.Time  `gorm:"index"`
	Species        string     `gorm:"size:255;index;not null"` // common name
	ScientificName string     `gorm:"size:255"`
	Confidence     float64    `gorm:"not null"`
	StartSec       float64    `gorm:"not null"`
	EndSec         float64    `gorm:"not null"`
	CreatedAt      time.Time
	ImagePath      *string `gorm:"size:1024"`
	SonogramPath   *string `gorm:"size:1024"`
	SnippetPath    *string `gorm:"size:1024"`
}
