package middleware

// Entitlement is the single gate consulted before serving gated routes
type Entitlement interface {
	CanUseApp() bool
}
