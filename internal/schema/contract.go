package schema

// Field is a single rule in a validation Contract.
type Field struct {
	Name     string   `json:"name"`
	Type     string   `json:"type"` // "int" | "decimal" | "text" | "bool" | "date" | "timestamp"
	Required bool     `json:"required,omitempty"`
	Enum     []string `json:"enum,omitempty"`
	MaxLen   int      `json:"max_len,omitempty"`
}

// Contract describes row-level data-quality rules evaluated during
// extraction. Failures are reported per row, never raised.
type Contract struct {
	Name   string  `json:"name"`
	Fields []Field `json:"fields"`
}
