package compose

import "strings"

// SlotFilter decides whether a planned slot stays on the page.
type SlotFilter interface {
	Keep(plan *SlotPlan) bool
}

// SlotFilterFunc adapts a function to SlotFilter.
type SlotFilterFunc func(plan *SlotPlan) bool

// Keep implements SlotFilter.
func (f SlotFilterFunc) Keep(plan *SlotPlan) bool { return f(plan) }

// ChatbotPrefix marks chatbot components.
const ChatbotPrefix = "chatbot/"

// ChatbotFilter strips chatbot slots unless the feature is enabled.
type ChatbotFilter struct {
	Enabled bool
}

// Keep implements SlotFilter.
func (f ChatbotFilter) Keep(plan *SlotPlan) bool {
	return f.Enabled || !strings.HasPrefix(plan.Alias, ChatbotPrefix)
}
