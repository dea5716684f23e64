package migration

// Phase is a state of a migration run
type Phase string

const (
	PhaseIdle                Phase = "Idle"
	PhaseAwaitingReadiness   Phase = "AwaitingReadiness"
	PhaseBootstrappingSchema Phase = "BootstrappingSchema"
	PhaseWiping              Phase = "Wiping"
	PhaseLoadingCategories   Phase = "LoadingCategories"
	PhaseLoadingProducts     Phase = "LoadingProducts"
	PhaseLoadingCustomers    Phase = "LoadingCustomers"
	PhaseLoadingOrders       Phase = "LoadingOrders"
	PhaseLoadingOrderItems   Phase = "LoadingOrderItems"
	PhaseLoadingEvents       Phase = "LoadingEvents"
	PhaseCompleted           Phase = "Completed"
	PhaseFailed              Phase = "Failed"
)

// Phases lists the working phases in execution order
var Phases = []Phase{
	PhaseAwaitingReadiness,
	PhaseBootstrappingSchema,
	PhaseWiping,
	PhaseLoadingCategories,
	PhaseLoadingProducts,
	PhaseLoadingCustomers,
	PhaseLoadingOrders,
	PhaseLoadingOrderItems,
	PhaseLoadingEvents,
}

// Terminal reports whether no further transition can follow
func (p Phase) Terminal() bool {
	return p == PhaseCompleted || p == PhaseFailed
}

// Mutating reports whether the graph may be partially written in this phase
func (p Phase) Mutating() bool {
	switch p {
	case PhaseIdle, PhaseAwaitingReadiness, PhaseBootstrappingSchema, PhaseCompleted, PhaseFailed:
		return false
	default:
		return true
	}
}

// Status is the outcome of a run
type Status string

const (
	StatusRunning   Status = "Running"
	StatusCompleted Status = "Completed"
	StatusFailed    Status = "Failed"
)
