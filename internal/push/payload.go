package push

import "strings"

// Payload is the notification content. It carries no recipient information.
type Payload struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	Icon  string `json:"icon,omitempty"`
}

func NewPayload(title, body, icon string) Payload {
	return Payload{
		Title: strings.TrimSpace(title),
		Body:  strings.TrimSpace(body),
		Icon:  strings.TrimSpace(icon),
	}
}

// Validate reports ErrInvalidInput when title or body is empty.
// Icon is passed through as given.
func (p Payload) Validate() error {
	if strings.TrimSpace(p.Title) == "" {
		return InvalidInput("title is required")
	}
	if strings.TrimSpace(p.Body) == "" {
		return InvalidInput("body is required")
	}
	return nil
}
