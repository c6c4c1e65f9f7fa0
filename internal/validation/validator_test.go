// ShopSight - E-Commerce Storefront Behavioral Analytics
// Copyright 2026 ShopSight Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/shopsight/shopsight

package validation

import (
	"strings"
	"testing"
)

type createFunnelPayload struct {
	Name  string   `validate:"required"`
	Steps []string `validate:"required,min=2"`
}

func TestValidateStructPasses(t *testing.T) {
	p := createFunnelPayload{Name: "checkout", Steps: []string{"view", "purchase"}}
	if err := ValidateStruct(&p); err != nil {
		t.Fatalf("expected valid payload, got %v", err)
	}
}

func TestValidateStructCollectsAllFailures(t *testing.T) {
	p := createFunnelPayload{}
	err := ValidateStruct(&p)
	if err == nil {
		t.Fatal("expected validation error")
	}

	if len(err.Errors()) != 2 {
		t.Fatalf("expected 2 field errors, got %d: %v", len(err.Errors()), err)
	}
	if !strings.Contains(err.Error(), "Name is required") {
		t.Errorf("expected required message for Name, got %q", err.Error())
	}
}

func TestValidateStructMinSteps(t *testing.T) {
	p := createFunnelPayload{Name: "checkout", Steps: []string{"only-one"}}
	err := ValidateStruct(&p)
	if err == nil {
		t.Fatal("expected validation error for too few steps")
	}

	details := err.Details()
	if _, ok := details["Steps"]; !ok {
		t.Errorf("expected Steps in details, got %v", details)
	}
}

func TestValidateStructNonStruct(t *testing.T) {
	if err := ValidateStruct(42); err == nil {
		t.Fatal("expected error for non-struct input")
	}
}
