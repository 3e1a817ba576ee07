package web

import (
	"embed"
	"io/fs"
	"net/http"
)

// uiFS embeds the static browser UI. The UI is a single self-contained page
// that connects to /ws and renders the event stream.
//
//go:embed ui
var uiFS embed.FS

// UIHandler returns an http.Handler serving the embedded UI at the root.
func UIHandler() (http.Handler, error) {
	sub, err := fs.Sub(uiFS, "ui")
	if err != nil {
		return nil, err
	}

	return http.FileServer(http.FS(sub)), nil
}
