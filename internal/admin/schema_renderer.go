// ABOUTME: Schema-based HTML renderer for the pod plugin settings pages.
// ABOUTME: Generates semantic HTML with Tailwind CSS from plugin configuration schemas.

package admin

import (
	"fmt"
	"html"
	"strings"

	"github.com/egidijus/funkwhale/plugins/core"
)

// RenderPluginTable generates the plugin overview table.
func RenderPluginTable(views []core.PluginView) string {
	var sb strings.Builder

	sb.WriteString(`<table class="min-w-full divide-y divide-gray-200">`)
	sb.WriteString(`<thead class="bg-gray-50"><tr>`)
	for _, col := range []string{"Plugin", "Description", "Scope", "Status"} {
		sb.WriteString(fmt.Sprintf(`<th class="px-6 py-3 text-left text-xs font-medium text-gray-500 uppercase">%s</th>`, col))
	}
	sb.WriteString(`</tr></thead>`)
	sb.WriteString(`<tbody class="bg-white divide-y divide-gray-200">`)

	for _, v := range views {
		sb.WriteString(`<tr>`)
		sb.WriteString(fmt.Sprintf(`<td class="px-6 py-4 whitespace-nowrap text-sm"><a href="/admin/plugins/%s" class="text-blue-600 hover:text-blue-900">%s</a></td>`,
			html.EscapeString(v.Name),
			html.EscapeString(v.Label)))
		sb.WriteString(fmt.Sprintf(`<td class="px-6 py-4 text-sm text-gray-900">%s</td>`,
			html.EscapeString(v.Description)))
		sb.WriteString(fmt.Sprintf(`<td class="px-6 py-4 whitespace-nowrap text-sm text-gray-900">%s</td>`, scopeLabel(v)))
		sb.WriteString(fmt.Sprintf(`<td class="px-6 py-4 whitespace-nowrap text-sm">%s</td>`, statusBadge(v.Enabled)))
		sb.WriteString(`</tr>`)
	}

	sb.WriteString(`</tbody></table>`)
	return sb.String()
}

// RenderSettingsForm generates the pod settings form of one plugin. When
// fieldErr is set, the message is shown under the offending field.
func RenderSettingsForm(view core.PluginView, fieldErr *core.ConfigError) string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf(`<form method="post" action="/admin/plugins/%s" class="bg-white rounded-lg shadow p-6 space-y-4 max-w-2xl">`,
		html.EscapeString(view.Name)))

	for _, field := range view.Conf {
		sb.WriteString(`<div>`)
		sb.WriteString(fmt.Sprintf(`<label for="%s" class="block text-sm font-medium text-gray-700">%s</label>`,
			html.EscapeString(field.Name),
			html.EscapeString(fieldLabel(field))))

		value := formatValue(view.Values[field.Name])
		if value == "" && field.Default != nil {
			value = formatValue(field.Default)
		}

		switch core.FieldType(field.Type) {
		case core.FieldLongText:
			sb.WriteString(fmt.Sprintf(`<textarea id="%s" name="%s" %s class="mt-1 block w-full rounded border-gray-300 shadow-sm px-3 py-2 border">%s</textarea>`,
				html.EscapeString(field.Name),
				html.EscapeString(field.Name),
				requiredAttr(field.Required),
				html.EscapeString(value)))

		case core.FieldBoolean:
			checked := ""
			if isTruthy(view.Values[field.Name]) || (view.Values[field.Name] == nil && isTruthy(field.Default)) {
				checked = " checked"
			}
			sb.WriteString(fmt.Sprintf(`<input type="checkbox" id="%s" name="%s" value="true"%s class="mt-1 rounded border-gray-300">`,
				html.EscapeString(field.Name),
				html.EscapeString(field.Name),
				checked))

		case core.FieldPassword:
			// Stored secrets are never echoed back; a blank submission keeps them.
			placeholder := ""
			if view.Values[field.Name] != nil {
				placeholder = ` placeholder="unchanged"`
			}
			sb.WriteString(fmt.Sprintf(`<input type="password" id="%s" name="%s"%s autocomplete="off" class="mt-1 block w-full rounded border-gray-300 shadow-sm px-3 py-2 border">`,
				html.EscapeString(field.Name),
				html.EscapeString(field.Name),
				placeholder))

		default:
			sb.WriteString(fmt.Sprintf(`<input type="%s" id="%s" name="%s"%s %s class="mt-1 block w-full rounded border-gray-300 shadow-sm px-3 py-2 border">`,
				inputType(core.FieldType(field.Type)),
				html.EscapeString(field.Name),
				html.EscapeString(field.Name),
				valueAttr(value),
				requiredAttr(field.Required)))
		}

		if field.Help != "" {
			sb.WriteString(fmt.Sprintf(`<p class="mt-1 text-xs text-gray-500">%s</p>`, html.EscapeString(field.Help)))
		}
		if fieldErr != nil && fieldErr.Field == field.Name {
			sb.WriteString(fmt.Sprintf(`<p class="mt-1 text-sm text-red-600">%s</p>`, html.EscapeString(fieldErr.Err.Error())))
		}
		sb.WriteString(`</div>`)
	}

	sb.WriteString(`<div class="flex gap-4">`)
	sb.WriteString(`<button type="submit" class="px-4 py-2 bg-purple-600 text-white rounded hover:bg-purple-700">Save</button>`)
	sb.WriteString(`<a href="/admin" class="px-4 py-2 bg-gray-200 text-gray-700 rounded hover:bg-gray-300">Cancel</a>`)
	sb.WriteString(`</div>`)

	sb.WriteString(`</form>`)
	return sb.String()
}

// RenderToggle generates the enable or disable button for a plugin.
func RenderToggle(view core.PluginView) string {
	action, label, css := "enable", "Enable", "bg-green-600 hover:bg-green-700"
	if view.Enabled {
		action, label, css = "disable", "Disable", "bg-red-600 hover:bg-red-700"
	}
	return fmt.Sprintf(`<form method="post" action="/admin/plugins/%s/%s"><button type="submit" class="px-4 py-2 text-white rounded %s">%s</button></form>`,
		html.EscapeString(view.Name), action, css, label)
}

func fieldLabel(f core.FieldView) string {
	if f.Label != "" {
		return f.Label
	}
	return f.Name
}

func scopeLabel(v core.PluginView) string {
	switch {
	case v.Source:
		return "User (source)"
	case v.User:
		return "User"
	default:
		return "Pod"
	}
}

func statusBadge(enabled bool) string {
	if enabled {
		return `<span class="px-2 py-1 text-xs rounded bg-green-100 text-green-800">Enabled</span>`
	}
	return `<span class="px-2 py-1 text-xs rounded bg-gray-100 text-gray-600">Disabled</span>`
}

func inputType(t core.FieldType) string {
	switch t {
	case core.FieldURL:
		return "url"
	case core.FieldNumber:
		return "number"
	default:
		return "text"
	}
}

func formatValue(value any) string {
	if value == nil {
		return ""
	}
	return fmt.Sprint(value)
}

func isTruthy(value any) bool {
	switch v := value.(type) {
	case bool:
		return v
	case string:
		return v == "true" || v == "1"
	case int:
		return v != 0
	default:
		return false
	}
}

func valueAttr(value string) string {
	if value == "" {
		return ""
	}
	return fmt.Sprintf(` value="%s"`, html.EscapeString(value))
}

func requiredAttr(required bool) string {
	if required {
		return "required"
	}
	return ""
}
