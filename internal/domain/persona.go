package domain

// Persona is a named character definition.
type Persona struct {
	Name         string  `json:"name" yaml:"name"`
	Description  string  `json:"description" yaml:"description"`
	SystemPrompt string  `json:"system_prompt" yaml:"system_prompt"`
	Greeting     *string `json:"greeting,omitempty" yaml:"greeting,omitempty"`
}

// PersonaRegistry resolves personas by name. Default never fails.
type PersonaRegistry interface {
	Default() Persona
	Lookup(name string) (Persona, bool)
}
