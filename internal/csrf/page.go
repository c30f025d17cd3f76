package csrf

import (
	"html/template"
	"net/http"

	"github.com/staffdesk/gatekeeper/internal/csp"
	apierrors "github.com/staffdesk/gatekeeper/internal/errors"
	"github.com/staffdesk/gatekeeper/internal/logger"
)

var errorPage = template.Must(template.New("csrf-error").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>Request blocked</title>
<style {{.Nonce}}>body{font-family:system-ui,sans-serif;max-width:32rem;margin:4rem auto;color:#222}code{color:#a40000}</style>
</head>
<body>
<h1>Request blocked</h1>
<p>{{.Message}}. Reload the page and submit the form again.</p>
<p>Code: <code>{{.Code}}</code></p>
</body>
</html>
`))

type pageData struct {
	Nonce   template.HTMLAttr
	Message string
	Code    apierrors.ErrorCode
}

func writeErrorPage(w http.ResponseWriter, r *http.Request, code apierrors.ErrorCode, msg string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(code.HTTPStatus())
	err := errorPage.Execute(w, pageData{Nonce: csp.NonceAttr(r.Context()), Message: msg, Code: code})
	if err != nil {
		log := logger.FromContext(r.Context())
		log.Error().Err(err).Msg("csrf.error_page_failed")
	}
}
