// Package testutil holds shared test helpers: Given/When/Then step naming for
// scenario tests and container fixtures for integration tests.
package testutil

import "testing"

// Given, When, Then, and And name the steps of a scenario test. Steps run as
// subtests so a failing step is reported by its description.
func Given(t *testing.T, desc string, fn func(t *testing.T)) {
	t.Helper()
	step(t, "Given "+desc, fn)
}

func When(t *testing.T, desc string, fn func(t *testing.T)) {
	t.Helper()
	step(t, "When "+desc, fn)
}

func Then(t *testing.T, desc string, fn func(t *testing.T)) {
	t.Helper()
	step(t, "Then "+desc, fn)
}

func And(t *testing.T, desc string, fn func(t *testing.T)) {
	t.Helper()
	step(t, "And "+desc, fn)
}

// step fails the parent test when a step fails, so later steps that depend
// on its state are not run against a broken fixture.
func step(t *testing.T, name string, fn func(t *testing.T)) {
	t.Helper()
	if !t.Run(name, fn) {
		t.FailNow()
	}
}
