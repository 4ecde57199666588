package rbac

type Role string
type Capability string

const (
	RoleStaff   Role = "staff"
	RoleManager Role = "manager"
	RoleAdmin   Role = "admin"
)

const (
	CapabilityPreviewQuotes  Capability = "quotes.preview"
	CapabilitySendQuotes     Capability = "quotes.send"
	CapabilitySendInvoices   Capability = "invoices.send"
	CapabilitySendEmail      Capability = "email.send"
	CapabilitySearchPipeline Capability = "pipeline.search"
)

// Decision is the outcome of a single authorization check at an operation
// boundary.
type Decision struct {
	Allowed    bool
	Role       Role
	Capability Capability
	Reason     string
}

var grants = map[Role]map[Capability]struct{}{
	RoleStaff: {
		CapabilityPreviewQuotes:  {},
		CapabilitySearchPipeline: {},
	},
	RoleManager: {
		CapabilityPreviewQuotes:  {},
		CapabilitySendQuotes:     {},
		CapabilitySendEmail:      {},
		CapabilitySearchPipeline: {},
	},
}

func Can(role Role, capability Capability) bool {
	if role == RoleAdmin {
		return true
	}
	_, ok := grants[role][capability]
	return ok
}

func Decide(role Role, capability Capability) Decision {
	decision := Decision{Role: role, Capability: capability, Allowed: Can(role, capability)}
	if !decision.Allowed {
		decision.Reason = "role " + string(role) + " lacks " + string(capability)
	}
	return decision
}

func Normalize(role string) Role {
	switch Role(role) {
	case RoleStaff, RoleManager, RoleAdmin:
		return Role(role)
	default:
		return RoleStaff
	}
}
