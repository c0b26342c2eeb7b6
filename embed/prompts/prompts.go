package prompts

import _ "embed"

// Initializer is the directive handed to the very first session of an empty
// project, before any features exist.
//
//go:embed initializer.md
var Initializer string

// Coding is the static header of the per-feature session prompt.
//
//go:embed coding.md
var Coding string

// Footer is appended to every session prompt.
//
//go:embed footer.md
var Footer string
