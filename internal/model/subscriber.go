package model

import "time"

type Subscriber struct {
	ID         string    `db:"id"         json:"id"`
	Email      string    `db:"email"      json:"email"`
	Subscribed bool      `db:"subscribed" json:"subscribed"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time `db:"updated_at" json:"updated_at"`
}
