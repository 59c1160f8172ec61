package openai

// SupportedModels returns the list of models the gateway bills for on
// the OpenAI side. The list mirrors the pricing table in pricing.go;
// a model without pricing is rejected before routing ever happens.
func SupportedModels() []string {
	return []string{
		"gpt-4o-mini",
	}
}

// buildModelSet creates a map for O(1) lookup.
func buildModelSet(models []string) map[string]bool {
	set := make(map[string]bool, len(models))
	for _, model := range models {
		set[model] = true
	}
	return set
}
