// ABOUTME: Page layout for the admin UI.
// ABOUTME: Wraps rendered fragments in a shared HTML shell.

package admin

import (
	"html/template"
	"io"
)

const layoutHTML = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>{{.Title}} · Funkwhale admin</title>
<script src="https://cdn.tailwindcss.com"></script>
</head>
<body class="bg-gray-100">
<nav class="bg-purple-700 text-white px-6 py-3"><a href="/admin" class="font-semibold">Funkwhale plugins</a></nav>
<main class="p-6 space-y-6">
<h1 class="text-2xl font-bold text-gray-900">{{.Title}}</h1>
{{if .Description}}<p class="text-gray-600">{{.Description}}</p>{{end}}
{{if .Flash}}<div class="rounded bg-red-100 text-red-800 px-4 py-2">{{.Flash}}</div>{{end}}
{{range .Sections}}<section>{{.}}</section>
{{end}}
</main>
</body>
</html>
`

var layoutTmpl = template.Must(template.New("layout").Parse(layoutHTML))

type pageData struct {
	Title       string
	Description string
	Flash       string
	Sections    []template.HTML
}

func renderPage(w io.Writer, data pageData) error {
	return layoutTmpl.Execute(w, data)
}
