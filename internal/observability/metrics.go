package observability

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides a centralized interface for collecting application metrics.
//
// The metrics system is built on Prometheus and tracks:
//   - Chat pipeline stream lifecycle and tool-loop rounds
//   - LLM request performance and token usage
//   - Tool execution patterns and latencies
//   - VFS and vector-store operation counts
//   - Workspace inbox depth and overflow events
//   - Data-governance backup/restore job phases
//   - Error rates by component and type
//
// Usage:
//
//	metrics := observability.NewMetrics()
//	metrics.StreamStarted("analysis")
//	defer metrics.LLMRequestDuration.WithLabelValues("anthropic", "claude-sonnet-4-5").Observe(time.Since(start).Seconds())
type Metrics struct {
	// StreamsActive tracks concurrently streaming chat sessions.
	// Labels: mode (analysis|agent|chat)
	StreamsActive *prometheus.GaugeVec

	// StreamCounter counts completed streams by outcome.
	// Labels: mode, outcome (success|error|cancelled)
	StreamCounter *prometheus.CounterVec

	// StreamDuration measures end-to-end stream duration in seconds.
	StreamDuration *prometheus.HistogramVec

	// ToolLoopRounds records how many tool rounds a stream used.
	ToolLoopRounds *prometheus.HistogramVec

	// LLMRequestDuration measures LLM API call latency in seconds.
	// Labels: provider, model
	LLMRequestDuration *prometheus.HistogramVec

	// LLMRequestCounter counts LLM requests by provider, model, and status.
	LLMRequestCounter *prometheus.CounterVec

	// LLMTokensUsed tracks token consumption.
	// Labels: provider, model, kind (prompt|completion)
	LLMTokensUsed *prometheus.CounterVec

	// ToolExecutionCounter counts tool invocations.
	// Labels: tool_name, status (success|error|timeout)
	ToolExecutionCounter *prometheus.CounterVec

	// ToolExecutionDuration measures tool execution time in seconds.
	ToolExecutionDuration *prometheus.HistogramVec

	// ErrorCounter tracks errors by component and error kind.
	ErrorCounter *prometheus.CounterVec

	// VFSResourceOps counts VFS resource operations.
	// Labels: op (create|reuse|update|purge), resource_type
	VFSResourceOps *prometheus.CounterVec

	// VectorUpsertCounter counts multimodal vector store upserts.
	// Labels: table_type (vl|text), dimension
	VectorUpsertCounter *prometheus.CounterVec

	// VectorSearchDuration measures vector search latency in seconds.
	VectorSearchDuration *prometheus.HistogramVec

	// WorkspaceInboxDepth tracks current inbox depth per workspace.
	WorkspaceInboxDepth *prometheus.GaugeVec

	// WorkspaceInboxOverflow counts rejected inbox sends.
	WorkspaceInboxOverflow *prometheus.CounterVec

	// BackupJobDuration measures backup/restore job phase duration in seconds.
	// Labels: job_type (backup|restore|zip_export|zip_import), phase
	BackupJobDuration *prometheus.HistogramVec

	// BackupJobCounter counts job completions by type and outcome.
	BackupJobCounter *prometheus.CounterVec

	// HTTPRequestDuration measures HTTP API request latency.
	HTTPRequestDuration *prometheus.HistogramVec

	// HTTPRequestCounter counts HTTP requests.
	HTTPRequestCounter *prometheus.CounterVec

	// DatabaseQueryDuration measures database query latency.
	DatabaseQueryDuration *prometheus.HistogramVec

	// DatabaseQueryCounter counts database queries.
	DatabaseQueryCounter *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics.
// This should be called once at application startup.
func NewMetrics() *Metrics {
	return &Metrics{
		StreamsActive: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "nexus_study_streams_active",
				Help: "Current number of actively streaming chat sessions",
			},
			[]string{"mode"},
		),

		StreamCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nexus_study_streams_total",
				Help: "Total completed streams by mode and outcome",
			},
			[]string{"mode", "outcome"},
		),

		StreamDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "nexus_study_stream_duration_seconds",
				Help:    "Duration of a full send_message stream in seconds",
				Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300},
			},
			[]string{"mode"},
		),

		ToolLoopRounds: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "nexus_study_tool_loop_rounds",
				Help:    "Number of tool-loop rounds used per stream",
				Buckets: []float64{0, 1, 2, 3, 4, 5},
			},
			[]string{"mode"},
		),

		LLMRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "nexus_study_llm_request_duration_seconds",
				Help:    "Duration of LLM API requests in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"provider", "model"},
		),

		LLMRequestCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nexus_study_llm_requests_total",
				Help: "Total number of LLM requests by provider, model, and status",
			},
			[]string{"provider", "model", "status"},
		),

		LLMTokensUsed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nexus_study_llm_tokens_total",
				Help: "Total number of tokens used by provider, model, and kind",
			},
			[]string{"provider", "model", "kind"},
		),

		ToolExecutionCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nexus_study_tool_executions_total",
				Help: "Total number of tool executions by tool name and status",
			},
			[]string{"tool_name", "status"},
		),

		ToolExecutionDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "nexus_study_tool_execution_duration_seconds",
				Help:    "Duration of tool executions in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"tool_name"},
		),

		ErrorCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nexus_study_errors_total",
				Help: "Total number of errors by component and error kind",
			},
			[]string{"component", "error_kind"},
		),

		VFSResourceOps: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nexus_study_vfs_resource_ops_total",
				Help: "VFS resource operations by kind and resource type",
			},
			[]string{"op", "resource_type"},
		),

		VectorUpsertCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nexus_study_vector_upserts_total",
				Help: "Multimodal vector store upserts by table type and dimension",
			},
			[]string{"table_type", "dimension"},
		),

		VectorSearchDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "nexus_study_vector_search_duration_seconds",
				Help:    "Duration of vector store searches in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"table_type", "dimension"},
		),

		WorkspaceInboxDepth: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "nexus_study_workspace_inbox_depth",
				Help: "Current inbox depth per workspace session",
			},
			[]string{"workspace_id"},
		),

		WorkspaceInboxOverflow: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nexus_study_workspace_inbox_overflow_total",
				Help: "Rejected inbox sends due to overflow",
			},
			[]string{"workspace_id"},
		),

		BackupJobDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "nexus_study_backup_job_phase_duration_seconds",
				Help:    "Duration of a backup/restore job phase in seconds",
				Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 300, 900},
			},
			[]string{"job_type", "phase"},
		),

		BackupJobCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nexus_study_backup_jobs_total",
				Help: "Completed backup/restore jobs by type and outcome",
			},
			[]string{"job_type", "outcome"},
		),

		HTTPRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "nexus_study_http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"method", "path", "status_code"},
		),

		HTTPRequestCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nexus_study_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status_code"},
		),

		DatabaseQueryDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "nexus_study_database_query_duration_seconds",
				Help:    "Duration of database queries in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"operation", "database"},
		),

		DatabaseQueryCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nexus_study_database_queries_total",
				Help: "Total number of database queries",
			},
			[]string{"operation", "database", "status"},
		),
	}
}

// StreamStarted increments the active-streams gauge for mode.
func (m *Metrics) StreamStarted(mode string) {
	m.StreamsActive.WithLabelValues(mode).Inc()
}

// StreamEnded decrements the active-streams gauge and records outcome + duration.
func (m *Metrics) StreamEnded(mode, outcome string, durationSeconds float64, toolRounds int) {
	m.StreamsActive.WithLabelValues(mode).Dec()
	m.StreamCounter.WithLabelValues(mode, outcome).Inc()
	m.StreamDuration.WithLabelValues(mode).Observe(durationSeconds)
	m.ToolLoopRounds.WithLabelValues(mode).Observe(float64(toolRounds))
}

// RecordLLMRequest records metrics for an LLM API request.
func (m *Metrics) RecordLLMRequest(provider, model, status string, durationSeconds float64, promptTokens, completionTokens int) {
	m.LLMRequestCounter.WithLabelValues(provider, model, status).Inc()
	m.LLMRequestDuration.WithLabelValues(provider, model).Observe(durationSeconds)
	if promptTokens > 0 {
		m.LLMTokensUsed.WithLabelValues(provider, model, "prompt").Add(float64(promptTokens))
	}
	if completionTokens > 0 {
		m.LLMTokensUsed.WithLabelValues(provider, model, "completion").Add(float64(completionTokens))
	}
}

// RecordToolExecution records metrics for a tool execution.
func (m *Metrics) RecordToolExecution(toolName, status string, durationSeconds float64) {
	m.ToolExecutionCounter.WithLabelValues(toolName, status).Inc()
	m.ToolExecutionDuration.WithLabelValues(toolName).Observe(durationSeconds)
}

// RecordError increments the error counter for a given component and error kind.
func (m *Metrics) RecordError(component, errorKind string) {
	m.ErrorCounter.WithLabelValues(component, errorKind).Inc()
}

// RecordVFSOp increments the VFS resource operation counter.
func (m *Metrics) RecordVFSOp(op, resourceType string) {
	m.VFSResourceOps.WithLabelValues(op, resourceType).Inc()
}

// RecordVectorUpsert increments the vector upsert counter.
func (m *Metrics) RecordVectorUpsert(tableType string, dimension int) {
	m.VectorUpsertCounter.WithLabelValues(tableType, strconv.Itoa(dimension)).Inc()
}

// RecordVectorSearch observes vector search latency.
func (m *Metrics) RecordVectorSearch(tableType string, dimension int, durationSeconds float64) {
	m.VectorSearchDuration.WithLabelValues(tableType, strconv.Itoa(dimension)).Observe(durationSeconds)
}

// SetWorkspaceInboxDepth sets the current inbox depth gauge for a workspace.
func (m *Metrics) SetWorkspaceInboxDepth(workspaceID string, depth int) {
	m.WorkspaceInboxDepth.WithLabelValues(workspaceID).Set(float64(depth))
}

// RecordWorkspaceInboxOverflow increments the inbox overflow counter.
func (m *Metrics) RecordWorkspaceInboxOverflow(workspaceID string) {
	m.WorkspaceInboxOverflow.WithLabelValues(workspaceID).Inc()
}

// RecordBackupJobPhase observes a backup/restore job phase's duration.
func (m *Metrics) RecordBackupJobPhase(jobType, phase string, durationSeconds float64) {
	m.BackupJobDuration.WithLabelValues(jobType, phase).Observe(durationSeconds)
}

// RecordBackupJobOutcome increments the backup job outcome counter.
func (m *Metrics) RecordBackupJobOutcome(jobType, outcome string) {
	m.BackupJobCounter.WithLabelValues(jobType, outcome).Inc()
}

// RecordHTTPRequest records HTTP request metrics.
func (m *Metrics) RecordHTTPRequest(method, path, statusCode string, durationSeconds float64) {
	m.HTTPRequestCounter.WithLabelValues(method, path, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path, statusCode).Observe(durationSeconds)
}

// RecordDatabaseQuery records database query metrics.
func (m *Metrics) RecordDatabaseQuery(operation, database, status string, durationSeconds float64) {
	m.DatabaseQueryCounter.WithLabelValues(operation, database, status).Inc()
	m.DatabaseQueryDuration.WithLabelValues(operation, database).Observe(durationSeconds)
}
