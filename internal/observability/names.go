// Package observability provides OpenTelemetry metrics (Prometheus exporter), optional tracing
// and slog wiring for the relay.
package observability

// Metric names (Prometheus / OpenTelemetry).
const (
	MetricNameMessages             = "relay_messages_total"
	MetricNameLookupDuration       = "relay_transaction_lookup_duration_seconds"
	MetricNameForwardDuration      = "relay_forward_duration_seconds"
	MetricNameForwardJobs          = "relay_forward_jobs_total"
	MetricNameCacheRequests        = "relay_cache_requests_total"
	MetricNameConsumerReconnects   = "relay_consumer_reconnects_total"
	MetricNameDeliveriesRejected   = "relay_deliveries_rejected_total"
	MetricNameDeliveriesAcked      = "relay_deliveries_acked_total"
	MetricNameDeliveryAckErrors    = "relay_delivery_ack_errors_total"
	MetricNameForwardQueueDepth    = "relay_forward_queue_depth"
	durationInstrumentNameWildcard = "relay_*_duration_seconds"
)

// Attribute keys.
const (
	AttrFormat  = "format"
	AttrOutcome = "outcome"
	AttrResult  = "result"
	AttrStatus  = "status"
	AttrReason  = "reason"
)

// AllowedFormats for relay_messages_total.
var AllowedFormats = map[string]bool{
	"raw":       true,
	"enveloped": true,
}

// AllowedOutcomes for relay_messages_total.
var AllowedOutcomes = map[string]bool{
	"forwarded":           true,
	"enqueued":            true,
	"ignored":             true,
	"duplicate":           true,
	"malformed":           true,
	"transaction_missing": true,
	"lookup_failed":       true,
	"forward_failed":      true,
}

// AllowedLookupResults for relay_transaction_lookup_duration_seconds.
var AllowedLookupResults = map[string]bool{
	"found":     true,
	"not_found": true,
	"error":     true,
}

// AllowedForwardResults for relay_forward_duration_seconds.
var AllowedForwardResults = map[string]bool{
	"success":    true,
	"non_2xx":    true,
	"transport":  true,
	"rate_limit": true,
}

// AllowedForwardJobStatuses for relay_forward_jobs_total.
var AllowedForwardJobStatuses = map[string]bool{
	"enqueued":       true,
	"enqueue_failed": true,
	"enqueue_retry":  true,
	"success":        true,
	"retry":          true,
	"failed_final":   true,
}

// AllowedCacheResults for relay_cache_requests_total.
var AllowedCacheResults = map[string]bool{
	"hit":  true,
	"miss": true,
}

// AllowedRejectReasons for relay_deliveries_rejected_total.
var AllowedRejectReasons = map[string]bool{
	"malformed":   true,
	"dead_letter": true,
}

// Normalize returns value if in allowed, otherwise "other".
func Normalize(value string, allowed map[string]bool) string {
	if allowed[value] {
		return value
	}

	return "other"
}
