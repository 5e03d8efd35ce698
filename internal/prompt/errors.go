// Package prompt assembles system prompts and renders the dispatch prompt.
package prompt

import "errors"

// ErrTemplateRender indicates that template rendering failed.
var ErrTemplateRender = errors.New("prompt: template render failed")
