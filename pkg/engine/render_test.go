package engine

import (
	"errors"
	"strings"
	"testing"
)

func TestRender_PreservesDeclaredOrder(t *testing.T) {
	pb := Playbook{
		Name: "ordered",
		Operations: []Operation{
			{Name: "first {{.env}}", Action: Action{Kind: ActionCommand, Command: "cmd1"}},
			{Name: "second {{.env}}", Action: Action{Kind: ActionCommand, Command: "cmd2"}},
			{Name: "third {{.env}}", Action: Action{Kind: ActionCommand, Command: "cmd3"}},
		},
	}

	ops, err := Render(pb, Bindings{"env": "staging"})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	want := []string{"first staging", "second staging", "third staging"}
	if len(ops) != len(want) {
		t.Fatalf("Expected %d operations, got %d", len(want), len(ops))
	}
	for i, name := range want {
		if ops[i].Name != name {
			t.Errorf("Operation %d: expected %q, got %q", i, name, ops[i].Name)
		}
	}
}

func TestRender_UnresolvedVariable_NamesTheVariable(t *testing.T) {
	pb := Playbook{
		Name: "unresolved",
		Operations: []Operation{
			{Name: "ok", Action: Action{Kind: ActionCommand, Command: "echo hello"}},
			{Name: "bad", Action: Action{Kind: ActionCommand, Command: "echo {{.port}}"}},
		},
	}

	_, err := Render(pb, Bindings{"env": "staging"})
	if err == nil {
		t.Fatal("Expected error for unresolved variable, got nil")
	}
	if !IsRenderError(err) {
		t.Errorf("Expected a render error, got: %v", err)
	}

	var ce *ConvergeError
	if !errors.As(err, &ce) {
		t.Fatalf("Expected *ConvergeError, got %T", err)
	}
	if ce.Code != ErrCodeUnresolvedVariable {
		t.Errorf("Expected code %s, got %s", ErrCodeUnresolvedVariable, ce.Code)
	}
	if !strings.Contains(ce.Message, "port") {
		t.Errorf("Expected message to name the variable, got %q", ce.Message)
	}
	if ce.Operation != "bad" {
		t.Errorf("Expected operation context %q, got %q", "bad", ce.Operation)
	}
}

func TestRender_MalformedTemplate(t *testing.T) {
	pb := Playbook{
		Name: "malformed",
		Operations: []Operation{
			{Name: "bad", Action: Action{Kind: ActionCommand, Command: "echo {{.unclosed"}},
		},
	}

	_, err := Render(pb, Bindings{"unclosed": "x"})
	if err == nil {
		t.Fatal("Expected error for malformed template, got nil")
	}

	var ce *ConvergeError
	if !errors.As(err, &ce) {
		t.Fatalf("Expected *ConvergeError, got %T", err)
	}
	if ce.Class != ErrorClassRender {
		t.Errorf("Expected render class, got %s", ce.Class)
	}
	if ce.Code != ErrCodeMalformedTemplate {
		t.Errorf("Expected code %s, got %s", ErrCodeMalformedTemplate, ce.Code)
	}
}

func TestRender_RendersCheckFields(t *testing.T) {
	pb := Playbook{
		Name: "checks",
		Operations: []Operation{
			{
				Name:   "guarded",
				Check:  &Check{Kind: CheckPath, Path: "/opt/{{.app}}/bin"},
				Action: Action{Kind: ActionCommand, Command: "install {{.app}}"},
			},
		},
	}

	ops, err := Render(pb, Bindings{"app": "quizd"})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if ops[0].Check.Path != "/opt/quizd/bin" {
		t.Errorf("Expected rendered check path, got %q", ops[0].Check.Path)
	}
}

func TestRender_DoesNotMutateThePlaybook(t *testing.T) {
	check := &Check{Kind: CheckPath, Path: "/opt/{{.app}}"}
	pb := Playbook{
		Name: "immutable",
		Operations: []Operation{
			{
				Name:   "op {{.app}}",
				Check:  check,
				Action: Action{Kind: ActionCommand, Command: "cmd {{.app}}"},
			},
		},
	}

	_, err := Render(pb, Bindings{"app": "quizd"})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if pb.Operations[0].Name != "op {{.app}}" {
		t.Errorf("Playbook name mutated: %q", pb.Operations[0].Name)
	}
	if check.Path != "/opt/{{.app}}" {
		t.Errorf("Playbook check mutated: %q", check.Path)
	}
}

func TestRender_PlainStringsPassThrough(t *testing.T) {
	pb := Playbook{
		Name: "plain",
		Operations: []Operation{
			{Name: "no templates", Action: Action{Kind: ActionCommand, Command: "echo $HOME && true"}},
		},
	}

	ops, err := Render(pb, nil)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if ops[0].Action.Command != "echo $HOME && true" {
		t.Errorf("Plain command changed: %q", ops[0].Action.Command)
	}
}

func TestRender_TemplateContent(t *testing.T) {
	pb := Playbook{
		Name: "content",
		Operations: []Operation{
			{
				Name: "write unit",
				Action: Action{
					Kind:        ActionTemplate,
					Content:     "ExecStart={{.install_dir}}/{{.service}}\nUser={{.service}}\n",
					Destination: "/etc/systemd/system/{{.service}}.service",
				},
			},
		},
	}

	ops, err := Render(pb, Bindings{"install_dir": "/opt/quizd", "service": "quizd"})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if ops[0].Action.Content != "ExecStart=/opt/quizd/quizd\nUser=quizd\n" {
		t.Errorf("Unexpected rendered content: %q", ops[0].Action.Content)
	}
	if ops[0].Action.Destination != "/etc/systemd/system/quizd.service" {
		t.Errorf("Unexpected rendered destination: %q", ops[0].Action.Destination)
	}
}
