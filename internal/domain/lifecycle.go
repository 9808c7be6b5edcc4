package domain

import "slices"

// requestStatusTransitions is the single transition table for customization
// request statuses. Every handler and service consults it through
// CanTransitionRequest instead of re-deriving legality per call site.
var requestStatusTransitions = map[RequestStatus][]RequestStatus{
	RequestStatusPendingAssignment: {RequestStatusInProgress, RequestStatusCancelled},
	RequestStatusInProgress:        {RequestStatusAwaitingPricing, RequestStatusPricingProposed, RequestStatusCancelled},
	RequestStatusAwaitingPricing:   {RequestStatusPricingProposed, RequestStatusCancelled},
	RequestStatusPricingProposed:   {RequestStatusAwaitingPricing, RequestStatusPaymentRequired, RequestStatusCancelled},
	RequestStatusPaymentRequired:   {RequestStatusApproved, RequestStatusCancelled, RequestStatusDisputed},
	RequestStatusApproved:          {RequestStatusInProduction, RequestStatusCancelled, RequestStatusDisputed},
	RequestStatusInProduction:      {RequestStatusReady, RequestStatusApproved, RequestStatusCancelled, RequestStatusDisputed},
	RequestStatusReady:             {RequestStatusCompleted, RequestStatusDisputed},
	RequestStatusDisputed:          {RequestStatusApproved, RequestStatusPaymentRequired, RequestStatusCancelled, RequestStatusCompleted},
}

// CanTransitionRequest reports whether a request may move between the two statuses.
func CanTransitionRequest(current, target RequestStatus) bool {
	if current == target {
		return true
	}
	next, ok := requestStatusTransitions[current]
	if !ok {
		return false
	}
	return slices.Contains(next, target)
}

// productionStatusTransitions encodes the forward-only manufacturing workflow.
// Cancellation is reachable from any non-completed state, driven by the
// dispute coordinator rather than the shop directly.
var productionStatusTransitions = map[ProductionStatus][]ProductionStatus{
	ProductionStatusNotStarted: {ProductionStatusConfirmed, ProductionStatusCancelled},
	ProductionStatusConfirmed:  {ProductionStatusInProgress, ProductionStatusCancelled},
	ProductionStatusInProgress: {ProductionStatusCompleted, ProductionStatusCancelled},
}

// CanTransitionProduction reports whether production may move between the two statuses.
func CanTransitionProduction(current, target ProductionStatus) bool {
	if current == target {
		return true
	}
	next, ok := productionStatusTransitions[current]
	if !ok {
		return false
	}
	return slices.Contains(next, target)
}

// disputeStageTransitions encodes the formal dispute lifecycle.
var disputeStageTransitions = map[DisputeStage][]DisputeStage{
	DisputeStageNegotiation: {DisputeStageAdminReview, DisputeStageResolved},
	DisputeStageAdminReview: {DisputeStageResolved},
}

// CanTransitionDispute reports whether a dispute may move between the two stages.
func CanTransitionDispute(current, target DisputeStage) bool {
	if current == target {
		return true
	}
	next, ok := disputeStageTransitions[current]
	if !ok {
		return false
	}
	return slices.Contains(next, target)
}
