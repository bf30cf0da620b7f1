// Package appspec defines the manifest an application ships to be hosted by
// the shell.
package appspec

import (
	"fmt"
	"strings"
)

// Manifest describes one hostable application. Name doubles as the
// application id every instance of the application shares.
type Manifest struct {
	Name     string            `json:"name"`
	Version  string            `json:"version"`
	Title    string            `json:"title,omitempty"`
	EntryURL string            `json:"entry_url,omitempty"`
	Enabled  bool              `json:"enabled"`
	Labels   map[string]string `json:"labels,omitempty"`
}

// Normalize trims identifying fields in place.
func (m *Manifest) Normalize() {
	m.Name = strings.TrimSpace(m.Name)
	m.Version = strings.TrimSpace(m.Version)
	m.Title = strings.TrimSpace(m.Title)
	m.EntryURL = strings.TrimSpace(m.EntryURL)
}

// Validate checks the fields the host depends on.
func (m Manifest) Validate() error {
	if strings.TrimSpace(m.Name) == "" {
		return fmt.Errorf("appspec: name required")
	}
	if strings.ContainsAny(m.Name, " \t\n") {
		return fmt.Errorf("appspec: name %q must not contain whitespace", m.Name)
	}
	if strings.TrimSpace(m.Version) == "" {
		return fmt.Errorf("appspec: version required")
	}
	return nil
}
