// ABOUTME: No-op telemetry for tests; provides disabled telemetry only, never business logic mocks
// ABOUTME: Lets real components run in tests with telemetry switched off

package telemetry

// NewForTesting returns a no-op telemetry instance for use in tests.
func NewForTesting() Telemetry {
	return NewNoop()
}
