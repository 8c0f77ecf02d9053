// Package settings provides typed, validated access to the engine's
// category -> subcategory -> parameter settings tree.
package settings

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"

	"github.com/bryanchriswhite/CaptureExpress/internal/engine"
	"github.com/bryanchriswhite/CaptureExpress/internal/logger"
	"github.com/bryanchriswhite/CaptureExpress/internal/metrics"
)

// Store is the part of the engine the adapter needs
type Store interface {
	GetSettings(category string) ([]engine.SubCategory, error)
	SaveSettings(category string, data []engine.SubCategory) error
}

// Compact maps subcategory -> parameter -> current value
type Compact map[string]map[string]any

// Updates maps subcategory -> parameter -> new value
type Updates map[string]map[string]any

// Adapter reads and writes engine settings
type Adapter struct {
	store Store
	// mu serializes read-modify-write cycles so concurrent writers to the
	// same category cannot lose each other's updates
	mu sync.Mutex
}

// NewAdapter creates an adapter over store
func NewAdapter(store Store) *Adapter {
	return &Adapter{store: store}
}

// Get returns the full category snapshot
func (a *Adapter) Get(category string) ([]engine.SubCategory, error) {
	data, err := a.store.GetSettings(category)
	if err != nil {
		return nil, &Error{Kind: CategoryNotFound, Category: category, Message: err.Error()}
	}
	if len(data) == 0 {
		return nil, &Error{Kind: CategoryNotFound, Category: category, Message: "not found"}
	}
	return data, nil
}

// GetCompact projects a category to subcategory -> parameter -> value
func (a *Adapter) GetCompact(category string) (Compact, error) {
	data, err := a.Get(category)
	if err != nil {
		return nil, err
	}
	out := make(Compact, len(data))
	for _, sub := range data {
		params := make(map[string]any, len(sub.Parameters))
		for _, p := range sub.Parameters {
			params[p.Name] = p.CurrentValue
		}
		out[sub.NameSubCategory] = params
	}
	return out, nil
}

// SetOne validates and writes a single parameter
func (a *Adapter) SetOne(category, subCategory, parameter string, value any) error {
	return a.SetMany(category, Updates{subCategory: {parameter: value}})
}

// SetMany applies every update to one fetched snapshot and commits the whole
// category once. Nothing is written if any update is rejected.
func (a *Adapter) SetMany(category string, updates Updates) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	data, err := a.Get(category)
	if err != nil {
		return err
	}

	for _, subName := range sortedKeys(updates) {
		params := updates[subName]
		paramNames := make([]string, 0, len(params))
		for name := range params {
			paramNames = append(paramNames, name)
		}
		sort.Strings(paramNames)
		for _, paramName := range paramNames {
			if err := setValue(data, category, subName, paramName, params[paramName]); err != nil {
				return err
			}
		}
	}

	if err := a.store.SaveSettings(category, data); err != nil {
		metrics.IncSettingsWrite(category, false)
		return fmt.Errorf("save settings category %s: %w", category, err)
	}
	metrics.IncSettingsWrite(category, true)

	logger.WithComponent("settings").Debug().
		Str("category", category).
		Int("subcategories", len(updates)).
		Msg("Settings committed")
	return nil
}

// AvailableValues lists the legal values of a list parameter
func (a *Adapter) AvailableValues(category, subCategory, parameter string) ([]string, error) {
	data, err := a.Get(category)
	if err != nil {
		return nil, err
	}
	p, err := findParameter(data, category, subCategory, parameter)
	if err != nil {
		return nil, err
	}
	if p.Type != engine.ParamList {
		return nil, &Error{
			Kind: UnsupportedParameterType, Category: category, SubCategory: subCategory, Parameter: parameter,
			Message: fmt.Sprintf("parameter type %s has no value list", p.Type),
		}
	}
	values := make([]string, len(p.Values))
	for i, v := range p.Values {
		values[i] = v.Value
	}
	return values, nil
}

func findParameter(data []engine.SubCategory, category, subCategory, parameter string) (*engine.Parameter, error) {
	var sub *engine.SubCategory
	for i := range data {
		if strings.EqualFold(data[i].NameSubCategory, subCategory) {
			sub = &data[i]
			break
		}
	}
	if sub == nil || len(sub.Parameters) == 0 {
		return nil, &Error{Kind: SubCategoryNotFound, Category: category, SubCategory: subCategory, Message: "not found"}
	}
	for i := range sub.Parameters {
		if strings.EqualFold(sub.Parameters[i].Name, parameter) {
			return &sub.Parameters[i], nil
		}
	}
	return nil, &Error{Kind: ParameterNotFound, Category: category, SubCategory: subCategory, Parameter: parameter, Message: "not found"}
}

func setValue(data []engine.SubCategory, category, subCategory, parameter string, value any) error {
	p, err := findParameter(data, category, subCategory, parameter)
	if err != nil {
		return err
	}
	invalid := func(msg string) error {
		return &Error{Kind: InvalidSettingValue, Category: category, SubCategory: subCategory, Parameter: parameter, Message: msg}
	}

	switch p.Type {
	case engine.ParamList:
		s, ok := value.(string)
		if !ok {
			return invalid("must be a string")
		}
		options := make([]string, len(p.Values))
		for i, v := range p.Values {
			options[i] = v.Value
		}
		for _, opt := range options {
			if strings.EqualFold(opt, s) {
				p.CurrentValue = opt
				return nil
			}
		}
		return invalid("must be one of: " + strings.Join(options, ", "))

	case engine.ParamInt, engine.ParamUInt, engine.ParamBitmask:
		n, ok := integer(value)
		if !ok {
			return invalid("must be an integer number")
		}
		if p.Type != engine.ParamInt && n < 0 {
			return invalid("must not be negative")
		}
		p.CurrentValue = n

	case engine.ParamBool:
		b, ok := value.(bool)
		if !ok {
			return invalid("must be a boolean")
		}
		p.CurrentValue = b

	case engine.ParamPath:
		s, ok := value.(string)
		if !ok {
			return invalid("must be a valid path")
		}
		p.CurrentValue = s

	case engine.ParamText:
		s, ok := value.(string)
		if !ok {
			return invalid("must be a string")
		}
		p.CurrentValue = s

	default:
		return &Error{
			Kind: UnsupportedParameterType, Category: category, SubCategory: subCategory, Parameter: parameter,
			Message: fmt.Sprintf("parameter type %s not supported", p.Type),
		}
	}
	return nil
}

// integer accepts any Go numeric type holding an integral value
func integer(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int8:
		return int64(n), true
	case int16:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint:
		return int64(n), true
	case uint8:
		return int64(n), true
	case uint16:
		return int64(n), true
	case uint32:
		return int64(n), true
	case uint64:
		if n > math.MaxInt64 {
			return 0, false
		}
		return int64(n), true
	case float32:
		return integralFloat(float64(n))
	case float64:
		return integralFloat(n)
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return i, true
		}
		f, err := n.Float64()
		if err != nil {
			return 0, false
		}
		return integralFloat(f)
	}
	return 0, false
}

func integralFloat(f float64) (int64, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
		return 0, false
	}
	return int64(f), true
}

func sortedKeys(u Updates) []string {
	keys := make([]string, 0, len(u))
	for k := range u {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
