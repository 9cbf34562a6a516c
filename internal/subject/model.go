package subject

import "time"

// Subject is the person a reminder is about. DateOfEvent is the anniversary
// reference; only its month and day matter for recurrence.
type Subject struct {
	ID          uint64    `gorm:"primaryKey"`
	FirstName   string    `gorm:"type:text;not null"`
	LastName    string    `gorm:"type:text;not null"`
	Location    string    `gorm:"type:text;not null;default:''"`
	DateOfEvent time.Time `gorm:"not null"`
	Phone       string    `gorm:"type:text;not null;default:''"`

	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

func (s Subject) FullName() string {
	switch {
	case s.FirstName == "":
		return s.LastName
	case s.LastName == "":
		return s.FirstName
	}
	return s.FirstName + " " + s.LastName
}
