package model

// Email is one outbound message handed to a transport.
type Email struct {
	To             string `json:"to"`
	Subject        string `json:"subject"`
	HTML           string `json:"html"`
	IdempotencyKey string `json:"-"`
	Tag            string `json:"tag,omitempty"`
}
