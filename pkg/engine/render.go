package engine

import (
	"fmt"
	"strings"
	"text/template"
	"text/template/parse"
)

// Render expands the playbook's templated fields against the bindings and
// returns the concrete operation sequence, preserving declared order
// exactly. It is a pure function: rendering happens once per run, before
// any operation executes, so a single unresolved variable or malformed
// template aborts the host run before any side effect.
func Render(pb Playbook, bindings Bindings) ([]Operation, error) {
	ops := make([]Operation, 0, len(pb.Operations))

	type field struct {
		name  string
		value *string
	}

	for i, op := range pb.Operations {
		rendered := op

		fields := []field{
			{"name", &rendered.Name},
			{"action.command", &rendered.Action.Command},
			{"action.source", &rendered.Action.Source},
			{"action.content", &rendered.Action.Content},
			{"action.destination", &rendered.Action.Destination},
			{"action.mode", &rendered.Action.Mode},
			{"action.owner", &rendered.Action.Owner},
			{"action.group", &rendered.Action.Group},
		}
		if op.Check != nil {
			check := *op.Check
			rendered.Check = &check
			fields = append(fields,
				field{"check.path", &rendered.Check.Path},
				field{"check.command", &rendered.Check.Command},
				field{"check.service", &rendered.Check.Service},
			)
		}

		opName := op.Name
		if opName == "" {
			opName = fmt.Sprintf("operation[%d]", i)
		}

		for _, f := range fields {
			out, err := renderField(*f.value, bindings)
			if err != nil {
				var ce *ConvergeError
				if e, ok := err.(*ConvergeError); ok {
					ce = e
				} else {
					ce = NewRenderError("template execution failed", err).
						WithCode(ErrCodeMalformedTemplate)
				}
				ce.Message = fmt.Sprintf("field %s: %s", f.name, ce.Message)
				return nil, ce.WithOperation(opName)
			}
			*f.value = out
		}

		ops = append(ops, rendered)
	}

	return ops, nil
}

// renderField renders a single templated string against the bindings.
func renderField(value string, bindings Bindings) (string, error) {
	if !strings.Contains(value, "{{") {
		return value, nil
	}

	tmpl, err := template.New("field").Option("missingkey=error").Parse(value)
	if err != nil {
		return "", NewRenderError("malformed template", err).
			WithCode(ErrCodeMalformedTemplate)
	}

	// Reject unresolved variables before execution so the failure names the
	// variable rather than surfacing as a generic exec error.
	for _, name := range referencedVariables(tmpl) {
		if _, ok := bindings[name]; !ok {
			return "", NewRenderError(
				fmt.Sprintf("unresolved variable %q", name), nil).
				WithCode(ErrCodeUnresolvedVariable)
		}
	}

	var sb strings.Builder
	if err := tmpl.Execute(&sb, bindings); err != nil {
		return "", NewRenderError("template execution failed", err).
			WithCode(ErrCodeMalformedTemplate)
	}
	return sb.String(), nil
}

// referencedVariables collects the top-level field names referenced by the
// template's parse tree.
func referencedVariables(tmpl *template.Template) []string {
	seen := make(map[string]struct{})
	for _, t := range tmpl.Templates() {
		if t.Tree != nil {
			collectFields(t.Tree.Root, seen)
		}
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	return names
}

func collectFields(node parse.Node, seen map[string]struct{}) {
	switch n := node.(type) {
	case *parse.ListNode:
		if n == nil {
			return
		}
		for _, child := range n.Nodes {
			collectFields(child, seen)
		}
	case *parse.ActionNode:
		collectPipe(n.Pipe, seen)
	case *parse.IfNode:
		collectBranch(&n.BranchNode, seen)
	case *parse.RangeNode:
		collectBranch(&n.BranchNode, seen)
	case *parse.WithNode:
		collectBranch(&n.BranchNode, seen)
	case *parse.TemplateNode:
		collectPipe(n.Pipe, seen)
	}
}

func collectBranch(branch *parse.BranchNode, seen map[string]struct{}) {
	collectPipe(branch.Pipe, seen)
	collectFields(branch.List, seen)
	if branch.ElseList != nil {
		collectFields(branch.ElseList, seen)
	}
}

func collectPipe(pipe *parse.PipeNode, seen map[string]struct{}) {
	if pipe == nil {
		return
	}
	for _, cmd := range pipe.Cmds {
		for _, arg := range cmd.Args {
			switch a := arg.(type) {
			case *parse.FieldNode:
				if len(a.Ident) > 0 {
					seen[a.Ident[0]] = struct{}{}
				}
			case *parse.ChainNode:
				if field, ok := a.Node.(*parse.FieldNode); ok && len(field.Ident) > 0 {
					seen[field.Ident[0]] = struct{}{}
				}
			case *parse.PipeNode:
				collectPipe(a, seen)
			}
		}
	}
}
