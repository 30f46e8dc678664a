// ABOUTME: Plugin detection for request logging.
// ABOUTME: Determines which plugin a request belongs to based on URL path.

package logging

import "strings"

const pluginsPrefix = "/api/v1/plugins"

// GetPluginFromPath returns the plugin addressed by an API path.
// The plugin list itself maps to "plugins", anything else to "unknown".
func GetPluginFromPath(path string) string {
	rest, ok := strings.CutPrefix(path, pluginsPrefix)
	if !ok || (rest != "" && rest[0] != '/') {
		if strings.HasPrefix(path, "/api/v1/history/") {
			return "history"
		}
		return "unknown"
	}

	rest = strings.Trim(rest, "/")
	if rest == "" {
		return "plugins"
	}
	name, _, _ := strings.Cut(rest, "/")
	return name
}
