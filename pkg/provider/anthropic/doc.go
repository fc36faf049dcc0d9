// Package anthropic adapts the Anthropic messages API to the
// provider.Adapter interface. It serves the diagram capability only: a
// Claude model is prompted to emit raw diagram source in the requested
// format, and the adapter strips any markdown fence the model adds anyway.
package anthropic
