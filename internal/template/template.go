// Package template selects the prompt scaffold for the configured model.
package template

import "strings"

// Template embeds a raw prompt into a model-specific wrapper. The prompt is
// inserted verbatim; no escaping is applied beyond what the wrapper itself is.
type Template func(prompt string) string

const llamaSystem = "You are a helpful assistant."

// Default passes the prompt through unchanged. Base (non-chat) models expect
// bare text.
func Default(prompt string) string {
	return prompt
}

// Llama2Chat wraps the prompt in the llama-2 chat instruction format.
func Llama2Chat(prompt string) string {
	return "<s>[INST] <<SYS>>\n" + llamaSystem + "\n<</SYS>>\n\n" + prompt + " [/INST]"
}

// ForModel picks the template for a model identifier. The two llama-2 chat
// checkpoints get the chat scaffold; every other identifier gets Default.
// Matching is case-insensitive.
func ForModel(modelName string) Template {
	switch strings.ToLower(modelName) {
	case "llama-2-7b-chat-hf", "llama-2-13b-chat-hf":
		return Llama2Chat
	default:
		return Default
	}
}
