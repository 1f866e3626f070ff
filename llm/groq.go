// Groq Provider using the OpenAI-compatible endpoint.
//
// Information Hiding:
// - Uses OpenAI-compatible API with a different base URL
// - Hosts the Llama models the assistant defaults to

package llm

const groqBaseURL = "https://api.groq.com/openai/v1"

// NewGroqProvider creates a provider for Groq.
func NewGroqProvider(apiKey, model string, maxTokens uint32, temperature float32) *OpenAIProvider {
	return NewOpenAICompatibleProvider("groq", groqBaseURL, apiKey, model, maxTokens, temperature)
}
