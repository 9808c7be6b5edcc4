package domain

// RecomputeTotal refreshes TotalCost from the three cost components. It must be
// called after any component changes; TotalCost is never set directly.
func (a *PricingAgreement) RecomputeTotal() {
	if a == nil {
		return
	}
	a.TotalCost = a.DesignFee + a.ProductCost + a.PrintingCost
}

// MilestoneSum returns the sum of all milestone amounts.
func (a *PricingAgreement) MilestoneSum() int64 {
	if a == nil {
		return 0
	}
	var sum int64
	for _, m := range a.Milestones {
		sum += m.Amount
	}
	return sum
}

// Agreed reports whether the customer has consented to the agreement.
func (a *PricingAgreement) Agreed() bool {
	return a != nil && a.AgreedAt != nil
}

// FindMilestone returns the milestone with the given id, if present.
func (a *PricingAgreement) FindMilestone(id string) (Milestone, bool) {
	if a == nil {
		return Milestone{}, false
	}
	for _, m := range a.Milestones {
		if m.ID == id {
			return m, true
		}
	}
	return Milestone{}, false
}

// CompletedAmount returns the sum of completed payments.
func (d *PaymentDetails) CompletedAmount() int64 {
	if d == nil {
		return 0
	}
	var sum int64
	for _, p := range d.Payments {
		if p.Status == PaymentStatusCompleted {
			sum += p.Amount
		}
	}
	return sum
}

// HasCompletedPayment reports whether any payment has completed.
func (d *PaymentDetails) HasCompletedPayment() bool {
	if d == nil {
		return false
	}
	for _, p := range d.Payments {
		if p.Status == PaymentStatusCompleted {
			return true
		}
	}
	return false
}

// MilestonePaid reports whether a completed payment already covers the milestone.
func (d *PaymentDetails) MilestonePaid(milestoneID string) bool {
	if d == nil {
		return false
	}
	for _, p := range d.Payments {
		if p.Status != PaymentStatusCompleted || p.MilestoneID == nil {
			continue
		}
		if *p.MilestoneID == milestoneID {
			return true
		}
	}
	return false
}

// FindPayment returns the payment with the given id, if present.
func (d *PaymentDetails) FindPayment(id string) (int, bool) {
	if d == nil {
		return -1, false
	}
	for idx, p := range d.Payments {
		if p.ID == id {
			return idx, true
		}
	}
	return -1, false
}
