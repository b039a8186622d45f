// Package builtin provides the tasks a taskgrid node deploys at startup.
package builtin

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/seantiz/taskgrid/internal/task"
)

// Task names.
const (
	SumTask       = "sum"
	BroadcastTask = "broadcast"
	SleepTask     = "sleep"
	FirstTask     = "first"
)

// ErrBadArgument is returned by Split when the argument cannot be decoded.
var ErrBadArgument = errors.New("bad task argument")

// Definitions returns fresh definitions of every built-in task.
func Definitions() []*task.Definition {
	return []*task.Definition{
		Sum(),
		Broadcast(),
		Sleep(),
		First(),
	}
}

// Deployer is the subset of the deployment registry Register needs.
type Deployer interface {
	Deploy(def *task.Definition) error
}

// Register deploys every built-in task.
func Register(d Deployer) error {
	for _, def := range Definitions() {
		if err := d.Deploy(def); err != nil {
			return fmt.Errorf("deploy %s: %w", def.Name, err)
		}
	}
	return nil
}

// decode converts arg into v. Raw JSON is unmarshalled; a value already of
// v's type is copied.
func decode[T any](arg any, v *T) error {
	switch a := arg.(type) {
	case nil:
		return nil
	case T:
		*v = a
		return nil
	case json.RawMessage:
		if len(a) == 0 {
			return nil
		}
		if err := json.Unmarshal(a, v); err != nil {
			return fmt.Errorf("%w: %v", ErrBadArgument, err)
		}
		return nil
	case []byte:
		return decode(json.RawMessage(a), v)
	default:
		return fmt.Errorf("%w: unexpected %T", ErrBadArgument, arg)
	}
}
