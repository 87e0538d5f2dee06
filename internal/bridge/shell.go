package bridge

import (
	_ "embed"
	"html/template"
	"io"

	"github.com/tinywideclouds/go-courier-bridge/pkg/courier"
)

//go:embed shell.html
var shellSource string

var shellTemplate = template.Must(template.New("shell").Parse(shellSource))

type shellData struct {
	SessionID string
	Channels  []courier.Channel
}

func renderShell(w io.Writer, data shellData) error {
	return shellTemplate.Execute(w, data)
}
