package anthropic

// SupportedModels returns the list of models the gateway bills for on
// the Anthropic side. Mirrors the pricing table in pricing.go.
func SupportedModels() []string {
	return []string{
		"claude-3-5-haiku-20241022",
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
