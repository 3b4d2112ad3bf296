package trn

import "fmt"

// ParseError reports why a TRN string failed to parse, naming the offending component.
type ParseError struct {
	Component string
	Reason    string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("trn: parse error in %s: %s", e.Component, e.Reason)
}

// BuildError reports why a set of Components failed to assemble into a valid TRN.
type BuildError struct {
	Component string
	Reason    string
}

func (e *BuildError) Error() string {
	return fmt.Sprintf("trn: build error in %s: %s", e.Component, e.Reason)
}
