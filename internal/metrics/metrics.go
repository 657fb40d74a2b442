package metrics

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Simple Prometheus-style metrics for the pipeline.
// This is intentionally minimal and in-memory only.

var (
	mu             sync.RWMutex
	requestsTotal  = make(map[reqKey]int64)
	latencyMsSum   = make(map[latKey]int64)
	latencyMsCount = make(map[latKey]int64)

	workItemsTotal = make(map[workKey]int64)
	dispositions   = make(map[string]int64)
	providerCalls  = make(map[providerKey]int64)

	retentionDeleted = make(map[string]int64)

	stageMsSum   = make(map[string]int64)
	stageMsCount = make(map[string]int64)

	queueDepth = make(map[string]queueGauge)
)

type reqKey struct {
	Method string
	Path   string
	Status int
}

type latKey struct {
	Method string
	Path   string
}

type workKey struct {
	Kind    string
	Outcome string
}

type providerKey struct {
	Provider string
	Success  string
}

type queueGauge struct {
	Ready  int64
	Leased int64
}

// RecordRequest increments request counter and records latency.
func RecordRequest(method, path string, status int, latencyMs int64) {
	mu.Lock()
	defer mu.Unlock()

	rk := reqKey{Method: method, Path: path, Status: status}
	requestsTotal[rk]++

	lk := latKey{Method: method, Path: path}
	latencyMsSum[lk] += latencyMs
	latencyMsCount[lk]++
}

// RecordWorkItem counts one finished handler run. Outcome is one of
// completed, retried, dead_letter.
func RecordWorkItem(kind, outcome string) {
	mu.Lock()
	defer mu.Unlock()
	workItemsTotal[workKey{Kind: kind, Outcome: outcome}]++
}

// RecordDisposition counts a business landing in a state.
func RecordDisposition(state string) {
	mu.Lock()
	defer mu.Unlock()
	dispositions[state]++
}

// RecordProviderCall counts one egress call to a named provider (listing,
// search, llm, geocoder, generator).
func RecordProviderCall(provider string, success bool) {
	mu.Lock()
	defer mu.Unlock()
	s := "false"
	if success {
		s = "true"
	}
	providerCalls[providerKey{Provider: provider, Success: s}]++
}

// RecordRetention counts rows or blobs removed by the retention sweep.
func RecordRetention(target string, deleted int64) {
	if deleted <= 0 {
		return
	}
	mu.Lock()
	defer mu.Unlock()
	retentionDeleted[target] += deleted
}

// RecordStageDuration tracks how long a pipeline stage took (render,
// verify).
func RecordStageDuration(stage string, ms int64) {
	mu.Lock()
	defer mu.Unlock()
	stageMsSum[stage] += ms
	stageMsCount[stage]++
}

// SetQueueDepth refreshes the per-kind depth gauge.
func SetQueueDepth(kind string, ready, leased int64) {
	mu.Lock()
	defer mu.Unlock()
	queueDepth[kind] = queueGauge{Ready: ready, Leased: leased}
}

// Export returns Prometheus-style metrics text.
func Export() string {
	mu.RLock()
	defer mu.RUnlock()

	var b strings.Builder

	b.WriteString("# HELP prospector_http_requests_total Total HTTP requests\n")
	b.WriteString("# TYPE prospector_http_requests_total counter\n")

	// Sort keys for stable output
	var reqKeys []reqKey
	for k := range requestsTotal {
		reqKeys = append(reqKeys, k)
	}
	sort.Slice(reqKeys, func(i, j int) bool {
		if reqKeys[i].Method != reqKeys[j].Method {
			return reqKeys[i].Method < reqKeys[j].Method
		}
		if reqKeys[i].Path != reqKeys[j].Path {
			return reqKeys[i].Path < reqKeys[j].Path
		}
		return reqKeys[i].Status < reqKeys[j].Status
	})

	for _, k := range reqKeys {
		fmt.Fprintf(&b, "prospector_http_requests_total{method=\"%s\",path=\"%s\",status=\"%d\"} %d\n",
			k.Method, k.Path, k.Status, requestsTotal[k])
	}

	b.WriteString("# HELP prospector_http_request_duration_ms_sum Total request duration in milliseconds\n")
	b.WriteString("# TYPE prospector_http_request_duration_ms_sum counter\n")
	b.WriteString("# HELP prospector_http_request_duration_ms_count Request count for latency metric\n")
	b.WriteString("# TYPE prospector_http_request_duration_ms_count counter\n")

	var latKeys []latKey
	for k := range latencyMsSum {
		latKeys = append(latKeys, k)
	}
	sort.Slice(latKeys, func(i, j int) bool {
		if latKeys[i].Method != latKeys[j].Method {
			return latKeys[i].Method < latKeys[j].Method
		}
		return latKeys[i].Path < latKeys[j].Path
	})

	for _, k := range latKeys {
		fmt.Fprintf(&b, "prospector_http_request_duration_ms_sum{method=\"%s\",path=\"%s\"} %d\n",
			k.Method, k.Path, latencyMsSum[k])
		fmt.Fprintf(&b, "prospector_http_request_duration_ms_count{method=\"%s\",path=\"%s\"} %d\n",
			k.Method, k.Path, latencyMsCount[k])
	}

	b.WriteString("# HELP prospector_work_items_total Finished work items by kind and outcome\n")
	b.WriteString("# TYPE prospector_work_items_total counter\n")

	var workKeys []workKey
	for k := range workItemsTotal {
		workKeys = append(workKeys, k)
	}
	sort.Slice(workKeys, func(i, j int) bool {
		if workKeys[i].Kind != workKeys[j].Kind {
			return workKeys[i].Kind < workKeys[j].Kind
		}
		return workKeys[i].Outcome < workKeys[j].Outcome
	})
	for _, k := range workKeys {
		fmt.Fprintf(&b, "prospector_work_items_total{kind=\"%s\",outcome=\"%s\"} %d\n",
			k.Kind, k.Outcome, workItemsTotal[k])
	}

	b.WriteString("# HELP prospector_dispositions_total Businesses landing in a disposition state\n")
	b.WriteString("# TYPE prospector_dispositions_total counter\n")

	var states []string
	for s := range dispositions {
		states = append(states, s)
	}
	sort.Strings(states)
	for _, s := range states {
		fmt.Fprintf(&b, "prospector_dispositions_total{state=\"%s\"} %d\n", s, dispositions[s])
	}

	b.WriteString("# HELP prospector_provider_calls_total Egress calls by provider\n")
	b.WriteString("# TYPE prospector_provider_calls_total counter\n")

	var provKeys []providerKey
	for k := range providerCalls {
		provKeys = append(provKeys, k)
	}
	sort.Slice(provKeys, func(i, j int) bool {
		if provKeys[i].Provider != provKeys[j].Provider {
			return provKeys[i].Provider < provKeys[j].Provider
		}
		return provKeys[i].Success < provKeys[j].Success
	})
	for _, k := range provKeys {
		fmt.Fprintf(&b, "prospector_provider_calls_total{provider=\"%s\",success=\"%s\"} %d\n",
			k.Provider, k.Success, providerCalls[k])
	}

	b.WriteString("# HELP prospector_retention_deleted_total Rows and blobs removed by retention\n")
	b.WriteString("# TYPE prospector_retention_deleted_total counter\n")

	var targets []string
	for t := range retentionDeleted {
		targets = append(targets, t)
	}
	sort.Strings(targets)
	for _, t := range targets {
		fmt.Fprintf(&b, "prospector_retention_deleted_total{target=\"%s\"} %d\n", t, retentionDeleted[t])
	}

	b.WriteString("# HELP prospector_stage_duration_ms_sum Total pipeline stage duration in milliseconds\n")
	b.WriteString("# TYPE prospector_stage_duration_ms_sum counter\n")
	b.WriteString("# HELP prospector_stage_duration_ms_count Stage run count for the duration metric\n")
	b.WriteString("# TYPE prospector_stage_duration_ms_count counter\n")

	var stages []string
	for s := range stageMsSum {
		stages = append(stages, s)
	}
	sort.Strings(stages)
	for _, s := range stages {
		fmt.Fprintf(&b, "prospector_stage_duration_ms_sum{stage=\"%s\"} %d\n", s, stageMsSum[s])
		fmt.Fprintf(&b, "prospector_stage_duration_ms_count{stage=\"%s\"} %d\n", s, stageMsCount[s])
	}

	b.WriteString("# HELP prospector_queue_depth Current work items by kind\n")
	b.WriteString("# TYPE prospector_queue_depth gauge\n")

	var kinds []string
	for k := range queueDepth {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	for _, k := range kinds {
		g := queueDepth[k]
		fmt.Fprintf(&b, "prospector_queue_depth{kind=\"%s\",state=\"ready\"} %d\n", k, g.Ready)
		fmt.Fprintf(&b, "prospector_queue_depth{kind=\"%s\",state=\"leased\"} %d\n", k, g.Leased)
	}

	return b.String()
}

// Reset clears all counters. Test helper.
func Reset() {
	mu.Lock()
	defer mu.Unlock()
	requestsTotal = make(map[reqKey]int64)
	latencyMsSum = make(map[latKey]int64)
	latencyMsCount = make(map[latKey]int64)
	workItemsTotal = make(map[workKey]int64)
	dispositions = make(map[string]int64)
	providerCalls = make(map[providerKey]int64)
	retentionDeleted = make(map[string]int64)
	stageMsSum = make(map[string]int64)
	stageMsCount = make(map[string]int64)
	queueDepth = make(map[string]queueGauge)
}
