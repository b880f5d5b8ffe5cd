package storage

import (
	"context"
	"testing"
)

func TestSetGetInstance(t *testing.T) {
	ctx := context.Background()

	// No instance set: empty string.
	if got := GetInstance(ctx); got != "" {
		t.Errorf("GetInstance(empty ctx) = %q, want %q", got, "")
	}

	ctx = SetInstance(ctx, "staging")
	if got := GetInstance(ctx); got != "staging" {
		t.Errorf("GetInstance = %q, want %q", got, "staging")
	}

	// Override instance.
	ctx = SetInstance(ctx, "prod")
	if got := GetInstance(ctx); got != "prod" {
		t.Errorf("GetInstance = %q, want %q", got, "prod")
	}
}

func TestGetInstance_NoCollision(t *testing.T) {
	ctx := context.WithValue(context.Background(), "instance", "wrong")
	if got := GetInstance(ctx); got != "" {
		t.Errorf("GetInstance should not match string key, got %q", got)
	}
}

func TestValidInstanceName(t *testing.T) {
	tests := []struct {
		name string
		want bool
	}{
		{"default", true},
		{"Team_42", true},
		{"", false},
		{"with-dash", false},
		{"semi;colon", false},
		{"spa ce", false},
		{"dröp", false},
		{"x\"; DROP TABLE chronicle_clients; --", false},
	}
	for _, tt := range tests {
		if got := ValidInstanceName(tt.name); got != tt.want {
			t.Errorf("ValidInstanceName(%q) = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestTableName(t *testing.T) {
	ctx := context.Background()
	if got := TableName(ctx, "clients"); got != "chronicle_clients" {
		t.Errorf("default table = %q", got)
	}

	ctx = SetInstance(ctx, "qa")
	if got := TableName(ctx, "clients"); got != "chronicle_qa_clients" {
		t.Errorf("instance table = %q", got)
	}

	ctx = SetInstance(ctx, "bad-name")
	if got := TableName(ctx, "clients"); got != "chronicle_clients" {
		t.Errorf("invalid prefix should fall back, got %q", got)
	}
}
