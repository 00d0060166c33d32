// Package testutil provides helpers for testing orchestrator components:
// lifecycle setup/teardown wrappers and a stub TCP instance speaking the
// health-check wire protocol.
package testutil

import (
	"context"
	"testing"

	"github.com/kbukum/orchestra/component"
)

// CleanupFunc is a function that performs cleanup, typically stopping a component.
type CleanupFunc func() error

// Setup starts a component and returns a cleanup function.
// The cleanup function should be called (typically with defer) to stop the component.
func Setup(c component.Component) (CleanupFunc, error) {
	return SetupWithContext(context.Background(), c)
}

// SetupWithContext starts a component with a custom context and returns a cleanup function.
func SetupWithContext(ctx context.Context, c component.Component) (CleanupFunc, error) {
	if err := c.Start(ctx); err != nil {
		return nil, err
	}
	return func() error {
		return c.Stop(ctx)
	}, nil
}

// StartComponent starts a component and registers its shutdown as a test cleanup.
// The test fails immediately if the component does not start.
func StartComponent(t *testing.T, c component.Component) {
	t.Helper()

	cleanup, err := Setup(c)
	if err != nil {
		t.Fatalf("starting %s: %v", c.Name(), err)
	}
	t.Cleanup(func() {
		if err := cleanup(); err != nil {
			t.Errorf("stopping %s: %v", c.Name(), err)
		}
	})
}
