package model

import "time"

// Author may create posts through the API using its api_key.
type Author struct {
	ID        string    `db:"id"         json:"id"`
	Name      string    `db:"name"       json:"name"`
	APIKey    string    `db:"api_key"    json:"-"`
	Status    string    `db:"status"     json:"status"` // active | suspended
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

func (a *Author) Active() bool { return a.Status == "active" }
