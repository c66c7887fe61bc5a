package template

import (
	"errors"
	"fmt"
)

var errNotCallable = errors.New("template: value is not callable")

func errCallArity(fn, want string) error {
	return fmt.Errorf("template: %s() requires %s", fn, want)
}
