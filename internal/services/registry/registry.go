package registry

import (
	"fmt"
	"strings"

	"github.com/gcottom/track-dl/internal/model"
)

func New(backends ...Backend) *Registry {
	r := &Registry{}
	for _, b := range backends {
		r.Register(b)
	}
	return r
}

// Register appends b. Registration order breaks priority ties.
func (r *Registry) Register(b Backend) {
	if b == nil {
		return
	}
	r.backends = append(r.backends, b)
}

func (r *Registry) Backends() []Backend {
	out := make([]Backend, len(r.backends))
	copy(out, r.backends)
	return out
}

// Select returns the applicable backend with the lowest priority.
func (r *Registry) Select(url string) (Backend, error) {
	url = strings.TrimSpace(url)
	var selected Backend
	for _, b := range r.backends {
		if !b.IsApplicable(url) {
			continue
		}
		if selected == nil || b.Priority() < selected.Priority() {
			selected = b
		}
	}
	if selected == nil {
		return nil, fmt.Errorf("%w: %q", model.ErrSourceNotSupported, url)
	}
	return selected, nil
}
