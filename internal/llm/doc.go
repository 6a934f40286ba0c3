// Package llm contains adapters for invoking large language models and text
// embedding services. It abstracts away provider-specific APIs so the intent
// pipeline can treat completion and embedding as opaque remote calls.
package llm
