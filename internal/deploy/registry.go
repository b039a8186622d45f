package deploy

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/seantiz/taskgrid/internal/task"
)

var (
	// ErrUnknownTask is returned when no definition is deployed under a name.
	ErrUnknownTask = errors.New("unknown task")
	// ErrAmbiguousTask is returned when a name is bound to a different definition.
	ErrAmbiguousTask = errors.New("ambiguous task")
)

// Info describes a deployment for listings.
type Info struct {
	Name         string `json:"name"`
	AsyncMapping bool   `json:"async_mapping"`
	SessionFull  bool   `json:"session_full"`
	Internal     bool   `json:"internal"`
	Refs         int    `json:"refs"`
}

type deployment struct {
	def      *task.Definition
	refs     int
	obsolete bool
}

// Registry holds deployed task definitions.
type Registry struct {
	mu          sync.RWMutex
	deployments map[string]*deployment
	onObsolete  func(def *task.Definition)
}

// NewRegistry creates an empty deployment registry.
func NewRegistry() *Registry {
	return &Registry{
		deployments: make(map[string]*deployment),
	}
}

// OnObsolete registers fn to be called once an undeployed definition has no
// remaining handles.
func (r *Registry) OnObsolete(fn func(def *task.Definition)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onObsolete = fn
}

// Deploy makes def resolvable by name. Deploying the same definition twice
// is a no-op; deploying a different definition under a taken name fails.
func (r *Registry) Deploy(def *task.Definition) error {
	if def == nil || def.Name == "" || def.Task == nil {
		return errors.New("deploy: definition needs a name and a task")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if cur, ok := r.deployments[def.Name]; ok {
		if cur.def == def {
			return nil
		}
		return fmt.Errorf("deploy %q: %w", def.Name, ErrAmbiguousTask)
	}
	r.deployments[def.Name] = &deployment{def: def}
	return nil
}

// Undeploy removes name from lookup. It reports whether name was deployed.
// Handles already resolved stay valid.
func (r *Registry) Undeploy(name string) bool {
	r.mu.Lock()
	d, ok := r.deployments[name]
	if !ok {
		r.mu.Unlock()
		return false
	}
	delete(r.deployments, name)
	d.obsolete = true
	fire := d.refs == 0
	hook := r.onObsolete
	r.mu.Unlock()

	if fire && hook != nil {
		hook(d.def)
	}
	return true
}

// Resolve returns a handle to the definition ref points at. Template
// references are deployed on first use.
func (r *Registry) Resolve(ref task.Ref) (*Handle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.deployments[ref.Name()]
	if tpl, isTpl := ref.Template(); isTpl {
		switch {
		case tpl.Task == nil || tpl.Name == "":
			return nil, fmt.Errorf("resolve %s: %w", ref, ErrUnknownTask)
		case !ok:
			d = &deployment{def: tpl}
			r.deployments[tpl.Name] = d
		case d.def != tpl:
			return nil, fmt.Errorf("resolve %s: %w", ref, ErrAmbiguousTask)
		}
	} else if !ok {
		return nil, fmt.Errorf("resolve %s: %w", ref, ErrUnknownTask)
	}

	d.refs++
	return &Handle{reg: r, dep: d}, nil
}

// List returns the deployed definitions sorted by name.
func (r *Registry) List() []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]Info, 0, len(r.deployments))
	for name, d := range r.deployments {
		infos = append(infos, Info{
			Name:         name,
			AsyncMapping: d.def.AsyncMapping,
			SessionFull:  d.def.SessionFull,
			Internal:     d.def.Internal,
			Refs:         d.refs,
		})
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].Name < infos[j].Name
	})
	return infos
}

func (r *Registry) release(d *deployment) {
	r.mu.Lock()
	d.refs--
	fire := d.obsolete && d.refs == 0
	hook := r.onObsolete
	r.mu.Unlock()

	if fire && hook != nil {
		hook(d.def)
	}
}

// Handle is an owned reference to a deployed definition.
type Handle struct {
	reg  *Registry
	dep  *deployment
	once sync.Once
}

// Definition returns the resolved definition.
func (h *Handle) Definition() *task.Definition {
	return h.dep.def
}

// Release drops the reference. Only the first call has an effect.
func (h *Handle) Release() {
	h.once.Do(func() {
		h.reg.release(h.dep)
	})
}
