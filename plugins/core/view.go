// ABOUTME: Serialized plugin view returned by the API and CLI.
// ABOUTME: Combines the descriptor, its schema and the caller's effective configuration.

package core

// FieldView is the JSON shape of a FieldSpec.
type FieldView struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Label    string `json:"label,omitempty"`
	Help     string `json:"help,omitempty"`
	Required bool   `json:"required"`
	Default  any    `json:"default,omitempty"`
}

// PluginView is the JSON shape of a plugin for a given scope.
type PluginView struct {
	Name        string         `json:"name"`
	Label       string         `json:"label"`
	Description string         `json:"description"`
	Enabled     bool           `json:"enabled"`
	Conf        []FieldView    `json:"conf"`
	User        bool           `json:"user"`
	Source      bool           `json:"source"`
	Values      map[string]any `json:"values"`
}

// Serialize renders d using confs, typically the result of
// Registry.EffectiveConfigs for the caller.
func Serialize(d Descriptor, confs map[string]EffectiveConfig) PluginView {
	conf := confs[d.Name]
	fields := make([]FieldView, 0, len(d.Schema))
	for _, f := range d.Schema {
		fv := FieldView{
			Name:     f.Name,
			Type:     string(f.Type),
			Label:    f.Label,
			Help:     f.Help,
			Required: f.Required(),
		}
		if f.HasDefault {
			fv.Default = f.Default
		}
		fields = append(fields, fv)
	}
	return PluginView{
		Name:        d.Name,
		Label:       d.DisplayLabel(),
		Description: d.Description,
		Enabled:     conf.Enabled,
		Conf:        fields,
		User:        d.UserScoped,
		Source:      d.Source,
		Values:      conf.Conf,
	}
}
