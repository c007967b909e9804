// Package prompts embeds the reasoning system prompts.
package prompts

import "embed"

//go:embed *.md
var PromptsFS embed.FS
