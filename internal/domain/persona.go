package domain

// Persona is a fixed assistant configuration. Name doubles as the partition
// key for persisted history and must be unique within a catalog.
type Persona struct {
	Name        string `yaml:"name" json:"name"`
	Description string `yaml:"description" json:"description"`
	Instruction string `yaml:"instruction" json:"-"`
	ImageURL    string `yaml:"imageUrl" json:"imageUrl,omitempty"`
}

// Invocation is a static reference text shown alongside the personas.
type Invocation struct {
	Title string `yaml:"title" json:"title"`
	Text  string `yaml:"text" json:"text"`
}
