// Package template defines report templates: an ordered list of sections,
// each pairing a data source with a presentation view.
//
// Sections form a closed tagged union over view kinds and are validated
// when a template is created or updated, never at execution time.
package template
