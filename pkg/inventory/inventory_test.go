package inventory

import (
	"testing"
)

const sampleInventory = `
environments:
  staging:
    vars:
      environment: staging
      webroot: /var/www/acme
    groups:
      loadbalancers:
        vars:
          domain: staging.example.com
      apps:
        vars:
          service_name: quizd
    hosts:
      - id: lb-1
        address: 10.0.1.10
        user: deploy
        groups: [loadbalancers]
      - id: app-1
        address: 10.0.1.20
        port: 2222
        groups: [apps]
        vars:
          service_port: "8081"
`

func TestParse_ValidInventory(t *testing.T) {
	inv, err := Parse([]byte(sampleInventory))
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	envs := inv.Environments()
	if len(envs) != 1 || envs[0] != "staging" {
		t.Errorf("Expected [staging], got %v", envs)
	}
}

func TestHosts_FiltersByGroup(t *testing.T) {
	inv, err := Parse([]byte(sampleInventory))
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	hosts, err := inv.Hosts("staging", "loadbalancers")
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if len(hosts) != 1 || hosts[0].ID != "lb-1" {
		t.Fatalf("Expected [lb-1], got %v", hosts)
	}

	all, err := inv.Hosts("staging", "")
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if len(all) != 2 {
		t.Errorf("Expected 2 hosts without a group filter, got %d", len(all))
	}
}

func TestHosts_DefaultsPortTo22(t *testing.T) {
	inv, err := Parse([]byte(sampleInventory))
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	hosts, err := inv.Hosts("staging", "")
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	ports := map[string]int{}
	for _, h := range hosts {
		ports[h.ID] = h.Port
	}
	if ports["lb-1"] != 22 {
		t.Errorf("Expected default port 22 for lb-1, got %d", ports["lb-1"])
	}
	if ports["app-1"] != 2222 {
		t.Errorf("Expected declared port 2222 for app-1, got %d", ports["app-1"])
	}
}

func TestGroupBindings_GroupOverridesEnvironment(t *testing.T) {
	inv, err := Parse([]byte(`
environments:
  staging:
    vars:
      domain: fallback.example.com
      environment: staging
    groups:
      loadbalancers:
        vars:
          domain: lb.example.com
    hosts:
      - id: lb-1
        address: 10.0.1.10
        groups: [loadbalancers]
`))
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	bindings, err := inv.GroupBindings("staging", "loadbalancers")
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if bindings["domain"] != "lb.example.com" {
		t.Errorf("Expected group var to win, got %q", bindings["domain"])
	}
	if bindings["environment"] != "staging" {
		t.Errorf("Expected environment var present, got %q", bindings["environment"])
	}
}

func TestHosts_UnknownEnvironment(t *testing.T) {
	inv, err := Parse([]byte(sampleInventory))
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if _, err := inv.Hosts("production", ""); err == nil {
		t.Error("Expected error for unknown environment, got nil")
	}
	if _, err := inv.GroupBindings("production", ""); err == nil {
		t.Error("Expected error for unknown environment, got nil")
	}
}

func TestParse_RejectsDuplicateHosts(t *testing.T) {
	_, err := Parse([]byte(`
environments:
  staging:
    hosts:
      - id: app-1
        address: 10.0.1.20
      - id: app-1
        address: 10.0.1.21
`))
	if err == nil {
		t.Fatal("Expected error for duplicate host IDs, got nil")
	}
}

func TestParse_RejectsMissingRequiredFields(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"no environments", `environments: {}`},
		{"no hosts", "environments:\n  staging:\n    hosts: []"},
		{"host without address", "environments:\n  staging:\n    hosts:\n      - id: app-1"},
		{"not yaml", `{{{`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Parse([]byte(tt.yaml)); err == nil {
				t.Error("Expected error, got nil")
			}
		})
	}
}
