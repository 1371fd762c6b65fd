package generator

import (
	"strings"

	_ "embed"
)

//go:embed default_system_prompt.txt
var defaultSystemPrompt string

//go:embed continue_prompt_template.txt
var continuePromptTemplate string

//go:embed first_prompt_template.txt
var firstPromptTemplate string

func DefaultSystemPrompt() string {
	return strings.TrimSpace(defaultSystemPrompt)
}

// UserPrompt renders the continuing conversation prompt when a context block
// is present and the first contact prompt otherwise.
func UserPrompt(handle, message, context string) string {
	values := map[string]string{
		"handle":  handle,
		"message": message,
		"context": context,
	}

	template := firstPromptTemplate
	if strings.TrimSpace(context) != "" {
		template = continuePromptTemplate
	}

	return render(template, values)
}

// render substitutes {key} placeholders in a single pass, so placeholder-like
// text inside the values is left untouched.
func render(template string, values map[string]string) string {
	pairs := make([]string, 0, len(values)*2)
	for key, value := range values {
		pairs = append(pairs, "{"+key+"}", value)
	}

	return strings.NewReplacer(pairs...).Replace(template)
}
