package domain

import "time"

// SessionSnapshot is the persisted form of one signed-in session.
type SessionSnapshot struct {
	ID         string
	Username   string
	Model      string
	Turns      []Turn
	Notebook   string
	Curriculum *Curriculum
	CreatedAt  time.Time
	UpdatedAt  time.Time
}
