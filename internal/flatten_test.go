package internal

import "testing"

// TestFlattenNestedAndArray tests that a nested map with an array is flattened correctly.
func TestFlattenNestedAndArray(t *testing.T) {
	input := map[string]interface{}{
		"commit_revision": map[string]interface{}{
			"head": map[string]interface{}{"hash": "bbb"},
		},
		"configuration": map[string]interface{}{
			"checks": []interface{}{
				map[string]interface{}{"enabled": true},
				map[string]interface{}{"enabled": false},
			},
		},
		"meta": map[string]string{"x-request-id": "req-1"},
	}

	flat := Flatten(input)
	if flat["commit_revision.head.hash"] != "bbb" {
		t.Fatalf("expected commit_revision.head.hash to be bbb")
	}
	if _, ok := flat["commit_revision.head"].(map[string]interface{}); !ok {
		t.Fatalf("expected intermediate maps to be kept")
	}
	if _, ok := flat["configuration.checks[]"]; !ok {
		t.Fatalf("expected configuration.checks[] to exist")
	}
	if flat["configuration.checks[0].enabled"] != true {
		t.Fatalf("expected checks[0].enabled to be true")
	}
	if flat["configuration.checks[1].enabled"] != false {
		t.Fatalf("expected checks[1].enabled to be false")
	}
	if flat["meta.x-request-id"] != "req-1" {
		t.Fatalf("expected string maps to be flattened")
	}
}
