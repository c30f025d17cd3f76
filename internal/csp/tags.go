package csp

import (
	"context"
	"html/template"
	"strings"
)

// NonceAttr renders nonce="N" for use inside templates. Without a nonce in ctx it renders
// nonce="", which the browser treats as untrusted: the tag is blocked, not silently allowed.
func NonceAttr(ctx context.Context) template.HTMLAttr {
	nonce := NonceFromContext(ctx)
	if !ValidNonce(nonce) {
		nonce = ""
	}
	return template.HTMLAttr(`nonce="` + nonce + `"`)
}

// ScriptTag renders an inline script stamped with the request nonce. body is trusted server
// code; "</" is escaped so it cannot close the element early.
func ScriptTag(ctx context.Context, body string) template.HTML {
	return template.HTML("<script " + string(NonceAttr(ctx)) + ">" + escapeClose(body) + "</script>")
}

// StyleTag renders an inline style block stamped with the request nonce.
func StyleTag(ctx context.Context, body string) template.HTML {
	return template.HTML("<style " + string(NonceAttr(ctx)) + ">" + escapeClose(body) + "</style>")
}

// FuncMap exposes the helpers to html/template as cspNonce, cspScript and cspStyle.
// Templates executed with a request context call them as {{cspScript .Ctx "..."}}.
func FuncMap() template.FuncMap {
	return template.FuncMap{
		"cspNonce":  NonceAttr,
		"cspScript": ScriptTag,
		"cspStyle":  StyleTag,
	}
}

func escapeClose(body string) string {
	return strings.ReplaceAll(body, "</", `<\/`)
}
