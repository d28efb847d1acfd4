package input

import (
	"errors"
	"fmt"
)

// ErrConstruction is matched by every ConstructionError.
var ErrConstruction = errors.New("input construction failed")

// ConstructionError reports a failure to build one input slot.
type ConstructionError struct {
	Type    string
	Index   int
	FileNum int
	Err     error
}

func (e *ConstructionError) Error() string {
	return fmt.Sprintf("failed to construct input %s[%d] for file %d: %v", e.Type, e.Index, e.FileNum, e.Err)
}

func (e *ConstructionError) Unwrap() error { return e.Err }

func (e *ConstructionError) Is(target error) bool { return target == ErrConstruction }
