package model

var blackboardCategories = []any{
	"observation", "insight", "plan", "decision", "error", "question", "artifact", "user_interjection",
}

// ResponseSchema is the JSON schema every strategy asks the model to
// follow. A fresh copy is returned on each call.
func ResponseSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"reasoning": map[string]any{
				"type":        "string",
				"description": "Step-by-step thinking behind this iteration's actions",
			},
			"tool_calls": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"tool":    map[string]any{"type": "string"},
						"params":  map[string]any{"type": "object"},
						"save_as": map[string]any{"type": "string"},
					},
					"required": []any{"tool", "params"},
				},
			},
			"blackboard_entry": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"category": map[string]any{"type": "string", "enum": blackboardCategories},
					"content":  map[string]any{"type": "string"},
				},
				"required": []any{"category", "content"},
			},
			"status": map[string]any{
				"type": "string",
				"enum": []any{"in_progress", "needs_assistance", "completed", "error"},
			},
			"message_to_user": map[string]any{"type": "string"},
			"artifacts": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"name":    map[string]any{"type": "string"},
						"type":    map[string]any{"type": "string"},
						"content": map[string]any{"type": "string"},
					},
					"required": []any{"name", "content"},
				},
			},
			"final_report": map[string]any{"type": "string"},
			"scratchpad_update": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"mode":    map[string]any{"type": "string", "enum": []any{"append", "replace"}},
					"content": map[string]any{"type": "string"},
				},
				"required": []any{"mode", "content"},
			},
		},
		"required": []any{"reasoning", "tool_calls", "blackboard_entry", "status"},
	}
}
