// Package openai adapts the OpenAI API to the provider.Adapter interface.
// Images come from /v1/images/generations; diagram source comes from a chat
// model prompted to emit raw Mermaid (or another requested format), with the
// adapter stripping any markdown fence the model adds anyway.
package openai
