package tenant

import (
	"errors"
	"fmt"
	"regexp"
	"sort"

	"github.com/leozw/tenant-tasks/internal/config"
)

var (
	// ErrInvalidTenant is returned when a request carries a tenant id that is
	// not registered. It is checked before any database work happens.
	ErrInvalidTenant = errors.New("invalid tenant")
	ErrUnknownTenant = errors.New("unknown tenant")
)

// identifierPattern restricts tenant ids to lowercase SQL identifiers. The
// derived schema name is interpolated into SET search_path, so anything
// outside this pattern must never reach the registry.
var identifierPattern = regexp.MustCompile(`^[a-z][a-z0-9_]{0,47}$`)

type ResourceLimits struct {
	CPU     string `json:"cpu"`
	Memory  string `json:"memory"`
	Storage string `json:"storage"`
	Pods    int    `json:"pods"`
}

type Config struct {
	TenantID       string         `json:"id"`
	Name           string         `json:"name"`
	Namespace      string         `json:"namespace"`
	ResourceLimits ResourceLimits `json:"resourceLimits"`
}

// Registry is populated once at startup and never mutated afterwards, so it is
// safe for concurrent readers without locking.
type Registry struct {
	tenants map[string]Config
}

func NewRegistry(tenants map[string]config.TenantConfig) (*Registry, error) {
	r := &Registry{tenants: make(map[string]Config, len(tenants))}

	for id, t := range tenants {
		if !identifierPattern.MatchString(id) {
			return nil, fmt.Errorf("tenant id %q is not a valid schema identifier", id)
		}
		r.tenants[id] = Config{
			TenantID:  id,
			Name:      t.Name,
			Namespace: t.Namespace,
			ResourceLimits: ResourceLimits{
				CPU:     t.ResourceLimits.CPU,
				Memory:  t.ResourceLimits.Memory,
				Storage: t.ResourceLimits.Storage,
				Pods:    t.ResourceLimits.Pods,
			},
		}
	}

	return r, nil
}

func (r *Registry) IsValid(tenantID string) bool {
	_, ok := r.tenants[tenantID]
	return ok
}

func (r *Registry) Get(tenantID string) (Config, error) {
	cfg, ok := r.tenants[tenantID]
	if !ok {
		return Config{}, fmt.Errorf("%w: %s", ErrUnknownTenant, tenantID)
	}
	return cfg, nil
}

// IDs returns the registered tenant ids in lexical order.
func (r *Registry) IDs() []string {
	ids := make([]string, 0, len(r.tenants))
	for id := range r.tenants {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// SchemaName maps a tenant id to its schema. Callers must only pass ids that
// passed IsValid.
func SchemaName(tenantID string) string {
	return "tenant_" + tenantID
}
