package metrics

const (
	ResponderPktsReceivedN = "devicetime_responder_pkts_received_total"
	ResponderPktsReceivedH = "The total number of packets received"

	ResponderReqsAcceptedN = "devicetime_responder_reqs_accepted_total"
	ResponderReqsAcceptedH = "The total number of time probe queries accepted"

	ResponderReqsServedN = "devicetime_responder_reqs_served_total"
	ResponderReqsServedH = "The total number of time probe replies served"

	ProberProbesSentN = "devicetime_prober_probes_sent_total"
	ProberProbesSentH = "The total number of time probe queries sent"

	ProberSendErrorsN = "devicetime_prober_send_errors_total"
	ProberSendErrorsH = "The total number of probe send failures"

	ProberRepliesReceivedN = "devicetime_prober_replies_received_total"
	ProberRepliesReceivedH = "The total number of reply packets received"

	ProberRepliesInvalidN = "devicetime_prober_replies_invalid_total"
	ProberRepliesInvalidH = "The total number of reply packets that failed to decode or authenticate"

	ProberSamplesAdmittedN = "devicetime_prober_samples_admitted_total"
	ProberSamplesAdmittedH = "The total number of samples admitted to the estimation window"

	ProberSamplesDroppedN = "devicetime_prober_samples_dropped_total"
	ProberSamplesDroppedH = "The total number of samples dropped by the latency filter"

	ModelSlopeN = "devicetime_clock_model_slope"
	ModelSlopeH = "Slope of the current device clock model"

	ModelOffsetN = "devicetime_clock_model_offset_ns"
	ModelOffsetH = "Offset of the current device clock model, in nanoseconds"

	ModelNegTranslationsN = "devicetime_clock_model_negative_translations_total"
	ModelNegTranslationsH = "The total number of timestamp translations that produced a negative result"
)
