// mediapreview – browser previews, streaming and share links for media files.
package main

import (
	"embed"

	"mediapreview/cmd"
)

//go:embed templates static
var embeddedFS embed.FS

func main() {
	cmd.Execute(embeddedFS)
}
