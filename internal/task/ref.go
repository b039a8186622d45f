package task

// Ref addresses the task to submit, either by deployed name or by template.
type Ref struct {
	name string
	def  *Definition
}

// ByName refers to a task deployed under name.
func ByName(name string) Ref {
	return Ref{name: name}
}

// ByTemplate refers to the given definition. It is deployed on first use.
func ByTemplate(def *Definition) Ref {
	return Ref{name: def.Name, def: def}
}

// Name returns the task name the reference resolves to.
func (r Ref) Name() string {
	return r.name
}

// Template returns the definition carried by a template reference.
func (r Ref) Template() (*Definition, bool) {
	return r.def, r.def != nil
}

// String returns a readable form of the reference.
func (r Ref) String() string {
	if r.def != nil {
		return "template:" + r.name
	}
	return "name:" + r.name
}
