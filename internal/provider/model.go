package provider

import (
	"net/http"

	"github.com/hien22444/WDP-LM-sub000/internal/pkg/apperror"
)

var (
	ErrNotFound = apperror.New(http.StatusNotFound, "provider not found")
)

// Mode is the way a tutoring session is delivered.
type Mode string

const (
	ModeOnline  Mode = "online"
	ModeOffline Mode = "offline"
)

// Valid reports whether m is a mode the platform knows about.
func (m Mode) Valid() bool {
	return m == ModeOnline || m == ModeOffline
}

// Provider is the read-only projection of a tutor profile needed for scheduling.
type Provider struct {
	ID          string
	DisplayName string
	Modes       []Mode
}

// Supports reports whether the provider teaches in the given mode.
func (p *Provider) Supports(m Mode) bool {
	for _, pm := range p.Modes {
		if pm == m {
			return true
		}
	}
	return false
}
