package metrics

import (
	"strings"
	"testing"
)

func TestRecordRequestAndExport(t *testing.T) {
	Reset()
	RecordRequest("POST", "/v1/campaigns", 201, 42)

	out := Export()
	if !strings.Contains(out, "prospector_http_requests_total{method=\"POST\",path=\"/v1/campaigns\",status=\"201\"} 1") {
		t.Fatalf("expected HTTP request metric in export, got:\n%s", out)
	}
	if !strings.Contains(out, "prospector_http_request_duration_ms_sum") || !strings.Contains(out, "prospector_http_request_duration_ms_count") {
		t.Fatalf("expected latency metric headers in export, got:\n%s", out)
	}
}

func TestRecordWorkItemMetrics(t *testing.T) {
	Reset()
	RecordWorkItem("validate_business", "completed")
	RecordWorkItem("validate_business", "completed")
	RecordWorkItem("discover_website", "retried")
	RecordWorkItem("scrape_zone", "dead_letter")

	out := Export()
	if !strings.Contains(out, "prospector_work_items_total{kind=\"validate_business\",outcome=\"completed\"} 2") {
		t.Fatalf("expected completed validate counter, got:\n%s", out)
	}
	if !strings.Contains(out, "prospector_work_items_total{kind=\"scrape_zone\",outcome=\"dead_letter\"} 1") {
		t.Fatalf("expected dead_letter scrape counter, got:\n%s", out)
	}
}

func TestRecordDispositionAndProviderMetrics(t *testing.T) {
	Reset()
	RecordDisposition("valid_from_provider")
	RecordDisposition("confirmed_no_website")
	RecordProviderCall("search", true)
	RecordProviderCall("search", false)

	out := Export()
	if !strings.Contains(out, "prospector_dispositions_total{state=\"valid_from_provider\"} 1") {
		t.Fatalf("expected disposition counter, got:\n%s", out)
	}
	if !strings.Contains(out, "prospector_provider_calls_total{provider=\"search\",success=\"true\"} 1") ||
		!strings.Contains(out, "prospector_provider_calls_total{provider=\"search\",success=\"false\"} 1") {
		t.Fatalf("expected provider counters, got:\n%s", out)
	}
}

func TestQueueDepthGauge(t *testing.T) {
	Reset()
	SetQueueDepth("validate_business", 12, 3)
	SetQueueDepth("validate_business", 10, 5)

	out := Export()
	if !strings.Contains(out, "prospector_queue_depth{kind=\"validate_business\",state=\"ready\"} 10") {
		t.Fatalf("gauge should hold the latest value, got:\n%s", out)
	}
	if !strings.Contains(out, "prospector_queue_depth{kind=\"validate_business\",state=\"leased\"} 5") {
		t.Fatalf("expected leased gauge, got:\n%s", out)
	}
}

func TestStageDuration(t *testing.T) {
	Reset()
	RecordStageDuration("render", 1200)
	RecordStageDuration("render", 800)
	RecordStageDuration("verify", 300)

	out := Export()
	if !strings.Contains(out, "prospector_stage_duration_ms_sum{stage=\"render\"} 2000") {
		t.Fatalf("expected render duration sum, got:\n%s", out)
	}
	if !strings.Contains(out, "prospector_stage_duration_ms_count{stage=\"render\"} 2") {
		t.Fatalf("expected render duration count, got:\n%s", out)
	}
	if !strings.Contains(out, "prospector_stage_duration_ms_sum{stage=\"verify\"} 300") {
		t.Fatalf("expected verify duration sum, got:\n%s", out)
	}
}

func TestRetentionIgnoresNonPositive(t *testing.T) {
	Reset()
	RecordRetention("validation_records", 0)
	RecordRetention("validation_records", -4)
	RecordRetention("validation_records", 7)

	out := Export()
	if !strings.Contains(out, "prospector_retention_deleted_total{target=\"validation_records\"} 7") {
		t.Fatalf("expected retention counter of 7, got:\n%s", out)
	}
}
