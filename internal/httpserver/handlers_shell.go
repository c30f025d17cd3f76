package httpserver

import (
	"context"
	"html/template"
	"net/http"

	"github.com/staffdesk/gatekeeper/internal/csp"
	"github.com/staffdesk/gatekeeper/internal/csrf"
	"github.com/staffdesk/gatekeeper/internal/logger"
)

// shellTemplate is the server-rendered entry page. Inline code only reaches the browser
// through the csp helpers, which stamp the request nonce.
var shellTemplate = template.Must(template.New("shell").Funcs(csp.FuncMap()).Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<meta name="csrf-token" content="{{.CSRFToken}}">
<title>StaffDesk</title>
{{cspStyle .Ctx "body{margin:0;font-family:system-ui,sans-serif}#app{min-height:100vh}"}}
</head>
<body>
<div id="app"></div>
{{cspScript .Ctx "window.__CSRF__=document.querySelector('meta[name=csrf-token]').content;"}}
<script {{cspNonce .Ctx}} src="/assets/app.js" defer></script>
</body>
</html>
`))

type shellData struct {
	Ctx       context.Context
	CSRFToken string
}

func (h *handlers) shell(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	data := shellData{Ctx: r.Context(), CSRFToken: csrf.Token(r)}
	if err := shellTemplate.Execute(w, data); err != nil {
		log := logger.FromContext(r.Context())
		log.Error().Err(err).Msg("httpserver.shell_render_failed")
	}
}
