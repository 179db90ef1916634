package lifecycle

// Operation names one of the engine's batch operations.
type Operation string

const (
	OperationRenewals         Operation = "renewals"
	OperationTrialConversions Operation = "trial_conversions"
	OperationRetries          Operation = "retries"
	OperationCancellations    Operation = "cancellations"
)

// Detail is the outcome for one subscription.
type Detail struct {
	SubscriptionID string `json:"subscription_id"`
	Success        bool   `json:"success"`
	Error          string `json:"error,omitempty"`

	// Err keeps the original error for errors.Is checks.
	Err error `json:"-"`
}

// Result summarizes one operation.
type Result struct {
	Operation Operation `json:"operation"`
	Processed int       `json:"processed"`
	Succeeded int       `json:"succeeded"`
	Failed    int       `json:"failed"`
	Details   []Detail  `json:"details"`
}

func (r *Result) add(d Detail) {
	r.Processed++
	if d.Success {
		r.Succeeded++
	} else {
		r.Failed++
	}
	r.Details = append(r.Details, d)
}

// AllResults is returned by ProcessAll.
type AllResults struct {
	Renewals         Result `json:"renewals"`
	TrialConversions Result `json:"trial_conversions"`
	Retries          Result `json:"retries"`
	Cancellations    Result `json:"cancellations"`
}

// Results returns the four results in execution order.
func (a AllResults) Results() []Result {
	return []Result{a.Renewals, a.TrialConversions, a.Retries, a.Cancellations}
}

// Failed is the number of failed subscriptions across all operations.
func (a AllResults) Failed() int {
	total := 0
	for _, r := range a.Results() {
		total += r.Failed
	}
	return total
}

func succeeded(subscriptionID string) Detail {
	return Detail{SubscriptionID: subscriptionID, Success: true}
}

func failed(subscriptionID string, err error) Detail {
	d := Detail{SubscriptionID: subscriptionID, Err: err}
	if err != nil {
		d.Error = err.Error()
	}
	return d
}
