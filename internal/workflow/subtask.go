package workflow

import "fmt"

// SubtaskDeriver produces the subtask a coordinator hands to a member.
type SubtaskDeriver interface {
	Derive(task, member string, index int) string
}

// SubtaskDeriverFunc adapts a function to SubtaskDeriver.
type SubtaskDeriverFunc func(task, member string, index int) string

func (f SubtaskDeriverFunc) Derive(task, member string, index int) string {
	return f(task, member, index)
}

var subtaskTemplates = []string{
	"Research information about %s",
	"Analyze data related to %s",
	"Generate visualizations for %s",
	"Write a summary of %s",
	"Create a report on %s",
}

// TemplateDeriver cycles through fixed templates by delegate index.
type TemplateDeriver struct{}

func (TemplateDeriver) Derive(task, _ string, index int) string {
	return fmt.Sprintf(subtaskTemplates[index%len(subtaskTemplates)], task)
}
