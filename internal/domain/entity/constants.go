package entity

// Status is the lifecycle status of a workflow instance
type Status string

// Status constants for WorkflowInstance
const (
	StatusPending   Status = "pending"
	StatusApproved  Status = "approved"
	StatusRejected  Status = "rejected"
	StatusCancelled Status = "cancelled"
)

// IsTerminal reports whether no further transitions are possible
func (s Status) IsTerminal() bool {
	return s == StatusApproved || s == StatusRejected || s == StatusCancelled
}

// IsValid reports whether s is a known status
func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusApproved, StatusRejected, StatusCancelled:
		return true
	}
	return false
}

// Priority is an informational sort key, it never affects transitions
type Priority string

// Priority constants
const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

var priorityWeights = map[Priority]int{
	PriorityLow:    1,
	PriorityNormal: 2,
	PriorityHigh:   3,
	PriorityUrgent: 4,
}

// Weight returns the queue weight of the priority; unknown priorities weigh as normal
func (p Priority) Weight() int {
	if w, ok := priorityWeights[p]; ok {
		return w
	}
	return priorityWeights[PriorityNormal]
}

// IsValid reports whether p is a known priority
func (p Priority) IsValid() bool {
	_, ok := priorityWeights[p]
	return ok
}

// Entity type constants used by the business modules
const (
	EntityTypeInvoice  = "invoice"
	EntityTypeVoucher  = "voucher"
	EntityTypePurchase = "purchase"
	EntityTypeLeave    = "leave"
	EntityTypeExpense  = "expense"
	EntityTypeGeneral  = "general"
)

// Decision is the verdict an approver records on a step
type Decision string

// Decision constants
const (
	DecisionApproved Decision = "approved"
	DecisionRejected Decision = "rejected"
)

// IsValid reports whether d is approved or rejected
func (d Decision) IsValid() bool {
	return d == DecisionApproved || d == DecisionRejected
}

// Approver rule types
const (
	RuleTypeUser    = "user"
	RuleTypeRole    = "role"
	RuleTypeDynamic = "dynamic"
)

// Approval policy modes
const (
	PolicyAny    = "any"
	PolicyAll    = "all"
	PolicyQuorum = "quorum"
)

// Code prefixes for human-readable references
const (
	TemplateCodePrefix = "WFT-"
	InstanceCodePrefix = "WF-"
)
