package executor

import (
	"fmt"
	"maps"
	"math"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"

	app_errors "github.com/spounge-ai/auditgate/internal/errors"
)

// ParamType is the Go shape a parameter value must have.
type ParamType int

const (
	TypeAny ParamType = iota
	TypeString
	TypeInt
	TypeBool
	TypeBytes
	TypeStringMap
)

func (t ParamType) String() string {
	switch t {
	case TypeString:
		return "string"
	case TypeInt:
		return "integer"
	case TypeBool:
		return "boolean"
	case TypeBytes:
		return "bytes"
	case TypeStringMap:
		return "string map"
	default:
		return "any"
	}
}

// normalize checks v against the type and returns it in canonical form.
// Integers arriving as JSON numbers are accepted when they are whole and fit
// in an int64.
func (t ParamType) normalize(v any) (any, bool) {
	switch t {
	case TypeString:
		s, ok := v.(string)
		return s, ok
	case TypeInt:
		switch n := v.(type) {
		case int:
			return int64(n), true
		case int32:
			return int64(n), true
		case int64:
			return n, true
		case float64:
			if n == math.Trunc(n) && n >= -(1<<63) && n < 1<<63 {
				return int64(n), true
			}
		}
		return nil, false
	case TypeBool:
		b, ok := v.(bool)
		return b, ok
	case TypeBytes:
		switch b := v.(type) {
		case []byte:
			return b, true
		case string:
			return []byte(b), true
		}
		return nil, false
	case TypeStringMap:
		switch m := v.(type) {
		case map[string]string:
			return m, true
		case map[string]any:
			out := make(map[string]string, len(m))
			for k, raw := range m {
				s, ok := raw.(string)
				if !ok {
					return nil, false
				}
				out[k] = s
			}
			return out, true
		}
		return nil, false
	default:
		return v, true
	}
}

// Param declares one operation parameter. Rules is a go-playground/validator
// tag applied to the normalized value.
type Param struct {
	Name     string
	Type     ParamType
	Required bool
	Rules    string
}

// Schema declares the parameters of one operation and which of them identify
// the target resource.
type Schema struct {
	Operation      string
	Params         []Param
	ResourceParams []string
	Timeout        time.Duration
}

// Validate checks presence, type and rules of params and returns them
// normalized. Undeclared parameters are rejected.
func (s Schema) Validate(v *validator.Validate, params map[string]any) (map[string]any, error) {
	normalized := make(map[string]any, len(params))
	declared := make(map[string]bool, len(s.Params))

	for _, p := range s.Params {
		declared[p.Name] = true
		raw, ok := params[p.Name]
		if !ok || raw == nil {
			if p.Required {
				return nil, &app_errors.ValidationError{Operation: s.Operation, Field: p.Name, Reason: "missing required parameter"}
			}
			continue
		}

		value, ok := p.Type.normalize(raw)
		if !ok {
			return nil, &app_errors.ValidationError{
				Operation: s.Operation,
				Field:     p.Name,
				Reason:    fmt.Sprintf("expected %s, got %T", p.Type, raw),
			}
		}
		if p.Rules != "" {
			if err := v.Var(value, p.Rules); err != nil {
				return nil, &app_errors.ValidationError{Operation: s.Operation, Field: p.Name, Reason: err.Error()}
			}
		}
		normalized[p.Name] = value
	}

	for _, name := range slices.Sorted(maps.Keys(params)) {
		if !declared[name] {
			return nil, &app_errors.ValidationError{Operation: s.Operation, Field: name, Reason: "unexpected parameter"}
		}
	}
	return normalized, nil
}

// Resource renders the identifying parameters as a resource descriptor.
func (s Schema) Resource(params map[string]any) string {
	parts := make([]string, 0, len(s.ResourceParams))
	for _, name := range s.ResourceParams {
		if v, ok := params[name]; ok && v != nil {
			parts = append(parts, fmt.Sprint(v))
		}
	}
	return strings.Join(parts, "/")
}

// Catalog holds the schemas of every operation the executor may run, keyed by
// service and operation name.
type Catalog struct {
	mu      sync.RWMutex
	schemas map[string]map[string]Schema
}

func NewCatalog() *Catalog {
	return &Catalog{schemas: make(map[string]map[string]Schema)}
}

// Register adds or replaces schemas for service.
func (c *Catalog) Register(service string, schemas ...Schema) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ops, ok := c.schemas[service]
	if !ok {
		ops = make(map[string]Schema)
		c.schemas[service] = ops
	}
	for _, s := range schemas {
		ops[s.Operation] = s
	}
}

func (c *Catalog) Lookup(service, operation string) (Schema, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.schemas[service][operation]
	return s, ok
}

// Operations lists the registered operations of service in name order.
func (c *Catalog) Operations(service string) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Sorted(maps.Keys(c.schemas[service]))
}
