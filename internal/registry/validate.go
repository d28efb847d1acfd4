package registry

import (
	"context"
	"fmt"
	"strings"

	"github.com/vk/simgrid/internal/ctxlog"
)

// ValidateRegistry checks that every registered descriptor is usable.
func (r *Registry) ValidateRegistry(ctx context.Context) error {
	var errs []string
	logger := ctxlog.FromContext(ctx)

	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, name := range r.order {
		d := r.descs[name]
		if d.Loader == nil {
			errs = append(errs, fmt.Sprintf("input '%s': descriptor has no loader", name))
			continue
		}
		if len(d.Types) == 0 {
			logger.Warn("Input type feeds no value types; rebuilding it invalidates nothing.", "input", name)
		}
		for _, t := range d.Types {
			if strings.TrimSpace(t) == "" {
				errs = append(errs, fmt.Sprintf("input '%s': empty value type name", name))
			}
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("registry validation failed:\n- %s", strings.Join(errs, "\n- "))
	}
	return nil
}
