package graph

import (
	"fmt"
	"strings"
)

// Error reports a model graph violation. Graph errors are fatal: they
// indicate a build-time defect and abort startup before any traffic is
// served.
type Error struct {
	Model   string
	Member  string
	Message string
}

func (e *Error) Error() string {
	switch {
	case e.Model != "" && e.Member != "":
		return fmt.Sprintf("model %s, member %s: %s", e.Model, e.Member, e.Message)
	case e.Model != "":
		return fmt.Sprintf("model %s: %s", e.Model, e.Message)
	default:
		return e.Message
	}
}

// CircularDefinitionError reports a dependency cycle among computed fields
// within one model. Cycle lists the member names in order, with the first
// repeated at the end.
type CircularDefinitionError struct {
	Model string
	Cycle []string
}

func (e *CircularDefinitionError) Error() string {
	return fmt.Sprintf("model %s: circular computed definition: %s",
		e.Model, strings.Join(e.Cycle, " -> "))
}
