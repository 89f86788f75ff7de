package domain

import "time"

// Project is a named piece of source code saved by an account.
type Project struct {
	ID        string
	OwnerID   string
	Name      string
	Code      string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// File describes an uploaded blob. The content itself lives in object storage.
type File struct {
	ID        string
	OwnerID   string
	Name      string
	Size      int64
	ObjectKey string
	CreatedAt time.Time
}

// Plugin is an entry of the editor plugin catalog.
type Plugin struct {
	ID          string
	Name        string
	Description string
	Installed   bool
}
