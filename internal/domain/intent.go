package domain

// Two-level intent taxonomy. The parent buckets the retrieval candidate pool;
// the child selects the placeholder contract.
const (
	IntentParentRenewal       = "renewal"
	IntentParentStatusInquiry = "status_inquiry"
	IntentParentRevision      = "revision"
	IntentParentComplaint     = "complaint"
	IntentParentOther         = "other"

	IntentChildBillingInquiry      = "billing_inquiry"
	IntentChildActivePeriodInquiry = "active_period_inquiry"
	IntentChildRenewalStatus       = "renewal_status"
	IntentChildDomainStatus        = "domain_status"
	IntentChildInvoiceRequest      = "invoice_request"
	IntentChildUnclear             = "unclear"
)

// Fallback labels used when classification fails, times out, or returns
// output that does not match the expected format.
const (
	FallbackIntentParent = IntentParentOther
	FallbackIntentChild  = IntentChildUnclear
)
