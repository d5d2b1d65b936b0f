// ABOUTME: Embeds HTML templates into the binary using go:embed
// ABOUTME: Provides templateFS for parsing templates at startup

package webchat

import "embed"

//go:embed templates/*.html templates/partials/*.html
var templateFS embed.FS
