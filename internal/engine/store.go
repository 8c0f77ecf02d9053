package engine

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/renameio/v2"
	"gopkg.in/yaml.v3"
)

// SettingsFileName is the persisted settings tree inside the data directory
const SettingsFileName = "settings.yaml"

// SettingsFile returns the settings path for dataDir
func SettingsFile(dataDir string) string {
	return filepath.Join(dataDir, SettingsFileName)
}

// savedValues is category -> subcategory -> parameter -> value
type savedValues map[string]map[string]map[string]any

// LoadSettingsFile overlays the current values stored at path onto the
// defaults tree. Unknown entries and values no longer allowed by a list
// parameter are dropped. A missing file leaves the defaults untouched.
func LoadSettingsFile(path string, tree map[string][]SubCategory) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}

	var saved savedValues
	if err := yaml.Unmarshal(data, &saved); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	for category, subs := range tree {
		values := saved[category]
		for i := range subs {
			params := values[subs[i].NameSubCategory]
			for j := range subs[i].Parameters {
				p := &subs[i].Parameters[j]
				v, ok := params[p.Name]
				if !ok || !acceptable(*p, v) {
					continue
				}
				if n, isInt := v.(int); isInt {
					v = int64(n)
				}
				p.CurrentValue = v
			}
		}
	}
	return nil
}

// WriteSettingsFile atomically persists the current values of tree
func WriteSettingsFile(path string, tree map[string][]SubCategory) error {
	saved := make(savedValues, len(tree))
	for category, subs := range tree {
		cat := make(map[string]map[string]any, len(subs))
		for _, sub := range subs {
			params := make(map[string]any, len(sub.Parameters))
			for _, p := range sub.Parameters {
				params[p.Name] = p.CurrentValue
			}
			cat[sub.NameSubCategory] = params
		}
		saved[category] = cat
	}

	data, err := yaml.Marshal(saved)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return renameio.WriteFile(path, data, 0o644)
}

func acceptable(p Parameter, v any) bool {
	switch p.Type {
	case ParamList:
		s, ok := v.(string)
		if !ok {
			return false
		}
		for _, o := range p.Values {
			if strings.EqualFold(o.Value, s) {
				return true
			}
		}
		return false
	case ParamInt, ParamUInt, ParamBitmask:
		_, ok := IntValue(v)
		return ok
	case ParamBool:
		_, ok := v.(bool)
		return ok
	default:
		_, ok := v.(string)
		return ok
	}
}
