package pick

import "arena/internal/arena"

// DefaultModels is the stock catalog: two providers so Smart Pick can always
// span vendors out of the box.
func DefaultModels() []arena.Model {
	return []arena.Model{
		{ID: "gemini-2.5-pro", Name: "gemini-2.5-pro", Provider: "gemini", Capable: true},
		{ID: "gemini-2.5-flash", Name: "gemini-2.5-flash", Provider: "gemini"},
		{ID: "llama-3.3-70b", Name: "llama-3.3-70b-versatile", Provider: "groq", Capable: true},
		{ID: "llama-3.1-8b", Name: "llama-3.1-8b-instant", Provider: "groq"},
		{ID: "deepseek-r1-70b", Name: "deepseek-r1-distill-llama-70b", Provider: "groq", Capable: true},
	}
}

// DefaultPreferences ranks model ids per category, best first.
func DefaultPreferences() map[string][]string {
	return map[string][]string{
		arena.CategoryGeneral: {"gemini-2.5-pro", "llama-3.3-70b", "gemini-2.5-flash", "deepseek-r1-70b", "llama-3.1-8b"},
		"coding":              {"gemini-2.5-pro", "deepseek-r1-70b", "llama-3.3-70b", "gemini-2.5-flash"},
		"writing":             {"gemini-2.5-pro", "llama-3.3-70b", "gemini-2.5-flash"},
		"math":                {"deepseek-r1-70b", "gemini-2.5-pro", "llama-3.3-70b"},
		"analysis":            {"gemini-2.5-pro", "deepseek-r1-70b", "llama-3.3-70b"},
	}
}
