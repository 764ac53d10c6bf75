// Package logging also provides audit logging that emits Mangle-queryable
// facts alongside the JSON audit line, so the relationship graph's own
// datalog engine can be pointed at the engine's own operational history
// (which files were re-ingested, which batches failed, which duplicate
// groups were formed) using the same query surface it uses for code edges.
package logging

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// AuditEventType identifies an audit event kind, each mapped to a Mangle
// predicate by generateMangleFact.
type AuditEventType string

const (
	// Ingest pipeline stage events -> scan_event/4
	AuditScanStart    AuditEventType = "scan_start"
	AuditScanComplete AuditEventType = "scan_complete"
	AuditScanError    AuditEventType = "scan_error"

	// Change ledger events -> ledger_op/4
	AuditLedgerCommit AuditEventType = "ledger_commit"
	AuditLedgerRepair AuditEventType = "ledger_repair"

	// Unit extraction events -> extract_op/5
	AuditExtractUnit  AuditEventType = "extract_unit"
	AuditExtractError AuditEventType = "extract_error"

	// Cache events -> cache_op/4
	AuditCacheHit  AuditEventType = "cache_hit"
	AuditCacheMiss AuditEventType = "cache_miss"
	AuditCacheFill AuditEventType = "cache_fill"

	// Embedding provider events -> embed_call/6
	AuditEmbedRequest AuditEventType = "embed_request"
	AuditEmbedError   AuditEventType = "embed_error"

	// Vector store events -> vectorstore_op/4
	AuditVectorUpsert AuditEventType = "vector_upsert"
	AuditVectorQuery  AuditEventType = "vector_query"

	// Similarity engine events -> duplicate_group/4
	AuditDuplicateFound AuditEventType = "duplicate_found"

	// Relationship graph events -> graph_query/4
	AuditGraphQuery  AuditEventType = "graph_query"
	AuditImpactQuery AuditEventType = "impact_query"

	// Pipeline run lifecycle -> run_event/4
	AuditRunStart    AuditEventType = "run_start"
	AuditRunComplete AuditEventType = "run_complete"
	AuditRunError    AuditEventType = "run_error"
)

// AuditEvent is a structured audit log entry that can be parsed into a
// Mangle fact. Format: predicate(timestamp, ...args).
type AuditEvent struct {
	Timestamp  int64                  `json:"ts"`
	EventType  AuditEventType         `json:"event"`
	Category   string                 `json:"cat"`
	RunID      string                 `json:"run"`
	Target     string                 `json:"target"`
	Success    bool                   `json:"success"`
	DurationMs int64                  `json:"dur_ms"`
	Error      string                 `json:"error"`
	Message    string                 `json:"msg"`
	Fields     map[string]interface{} `json:"fields"`
	MangleFact string                 `json:"mangle"`
}

var (
	auditFile   *os.File
	auditMu     sync.Mutex
	auditLogger *AuditLogger
)

// AuditLogger writes audit events scoped to one ingest run.
type AuditLogger struct {
	runID    string
	category Category
}

// InitAudit opens the audit log for the current ingest run. A no-op unless
// debug mode is on, since audit logs are a diagnostics aid, not required
// output.
func InitAudit() error {
	if !IsDebugMode() {
		return nil
	}
	auditMu.Lock()
	defer auditMu.Unlock()
	if auditFile != nil {
		return nil
	}
	date := time.Now().Format("2006-01-02")
	path := filepath.Join(logsDir, fmt.Sprintf("%s_audit.log", date))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("create audit log: %w", err)
	}
	auditFile = f
	fmt.Fprintf(auditFile, "# Audit log started at %s\n# Format: Mangle-queryable structured events\n", time.Now().Format(time.RFC3339))
	return nil
}

// CloseAudit closes the audit log file.
func CloseAudit() {
	auditMu.Lock()
	defer auditMu.Unlock()
	if auditFile != nil {
		auditFile.Close()
		auditFile = nil
	}
}

// Audit returns the global, unscoped audit logger.
func Audit() *AuditLogger {
	if auditLogger == nil {
		auditLogger = &AuditLogger{}
	}
	return auditLogger
}

// AuditWithRun scopes an audit logger to one ingest run ID.
func AuditWithRun(runID string) *AuditLogger {
	return &AuditLogger{runID: runID}
}

// Log writes one audit event, filling in defaults and generating its
// Mangle fact.
func (a *AuditLogger) Log(event AuditEvent) {
	if !IsDebugMode() || auditFile == nil {
		return
	}
	if event.Timestamp == 0 {
		event.Timestamp = time.Now().UnixMilli()
	}
	if event.RunID == "" && a.runID != "" {
		event.RunID = a.runID
	}
	if event.Category == "" && a.category != "" {
		event.Category = string(a.category)
	}
	if event.Fields == nil {
		event.Fields = make(map[string]interface{})
	}
	event.MangleFact = generateMangleFact(event)

	auditMu.Lock()
	defer auditMu.Unlock()
	if data, err := json.Marshal(event); err == nil {
		auditFile.WriteString(string(data) + "\n")
	}
}

func generateMangleFact(e AuditEvent) string {
	switch e.EventType {
	case AuditScanStart, AuditScanComplete, AuditScanError:
		return fmt.Sprintf("scan_event(%d, /%s, \"%s\", %v).",
			e.Timestamp, e.EventType, e.Target, e.Success)

	case AuditLedgerCommit, AuditLedgerRepair:
		return fmt.Sprintf("ledger_op(%d, /%s, \"%s\", %v).",
			e.Timestamp, e.EventType, e.Target, e.Success)

	case AuditExtractUnit, AuditExtractError:
		return fmt.Sprintf("extract_op(%d, /%s, \"%s\", %v, %d).",
			e.Timestamp, e.EventType, e.Target, e.Success, e.DurationMs)

	case AuditCacheHit, AuditCacheMiss, AuditCacheFill:
		return fmt.Sprintf("cache_op(%d, /%s, \"%s\", %v).",
			e.Timestamp, e.EventType, e.Target, e.Success)

	case AuditEmbedRequest, AuditEmbedError:
		tokens := 0
		if t, ok := e.Fields["tokens"].(int); ok {
			tokens = t
		}
		return fmt.Sprintf("embed_call(%d, /%s, \"%s\", %v, %d, %d).",
			e.Timestamp, e.EventType, e.Target, e.Success, e.DurationMs, tokens)

	case AuditVectorUpsert, AuditVectorQuery:
		return fmt.Sprintf("vectorstore_op(%d, /%s, \"%s\", %d).",
			e.Timestamp, e.EventType, e.Target, e.DurationMs)

	case AuditDuplicateFound:
		return fmt.Sprintf("duplicate_group(%d, \"%s\", \"%s\", %v).",
			e.Timestamp, e.Target, e.Fields["duplicate_type"], e.Success)

	case AuditGraphQuery, AuditImpactQuery:
		return fmt.Sprintf("graph_query(%d, /%s, \"%s\", %d).",
			e.Timestamp, e.EventType, e.Target, e.DurationMs)

	case AuditRunStart, AuditRunComplete, AuditRunError:
		return fmt.Sprintf("run_event(%d, /%s, \"%s\", %v).",
			e.Timestamp, e.EventType, e.RunID, e.Success)

	default:
		return fmt.Sprintf("audit_event(%d, /%s, \"%s\", \"%s\", %v).",
			e.Timestamp, e.EventType, e.Category, escapeString(e.Message), e.Success)
	}
}

// escapeString escapes a string for embedding in a Mangle string literal.
// strings.Builder keeps this linear in len(s); the naive += version was a
// measured quadratic hotspot on long error messages.
func escapeString(s string) string {
	var b strings.Builder
	b.Grow(len(s) + len(s)/10)
	for _, c := range s {
		switch c {
		case '"':
			b.WriteString("\\\"")
		case '\\':
			b.WriteString("\\\\")
		case '\n':
			b.WriteString("\\n")
		case '\r':
			b.WriteString("\\r")
		case '\t':
			b.WriteString("\\t")
		default:
			b.WriteRune(c)
		}
	}
	return b.String()
}

// ScanFile logs a per-file scan result.
func (a *AuditLogger) ScanFile(path string, success bool, errMsg string) {
	eventType := AuditScanComplete
	if !success {
		eventType = AuditScanError
	}
	a.Log(AuditEvent{
		EventType: eventType,
		Target:    path,
		Success:   success,
		Error:     errMsg,
		Message:   fmt.Sprintf("scan %s: success=%v", path, success),
	})
}

// LedgerCommit logs a ledger commit for a path transition.
func (a *AuditLogger) LedgerCommit(path, status string) {
	a.Log(AuditEvent{
		EventType: AuditLedgerCommit,
		Target:    path,
		Success:   true,
		Fields:    map[string]interface{}{"status": status},
		Message:   fmt.Sprintf("ledger commit: %s -> %s", path, status),
	})
}

// ExtractUnit logs a unit extraction outcome.
func (a *AuditLogger) ExtractUnit(path string, unitCount int, durationMs int64, success bool, errMsg string) {
	eventType := AuditExtractUnit
	if !success {
		eventType = AuditExtractError
	}
	a.Log(AuditEvent{
		EventType:  eventType,
		Target:     path,
		Success:    success,
		DurationMs: durationMs,
		Error:      errMsg,
		Fields:     map[string]interface{}{"unit_count": unitCount},
		Message:    fmt.Sprintf("extract %s: %d units (%dms, success=%v)", path, unitCount, durationMs, success),
	})
}

// CacheEvent logs a cache tier hit, miss, or fill.
func (a *AuditLogger) CacheEvent(eventType AuditEventType, tier, key string) {
	a.Log(AuditEvent{
		EventType: eventType,
		Target:    key,
		Success:   true,
		Fields:    map[string]interface{}{"tier": tier},
		Message:   fmt.Sprintf("cache %s on %s: %s", eventType, tier, key),
	})
}

// EmbedCall logs an embedding provider call.
func (a *AuditLogger) EmbedCall(modelID string, unitCount int, durationMs int64, success bool, errMsg string) {
	eventType := AuditEmbedRequest
	if !success {
		eventType = AuditEmbedError
	}
	a.Log(AuditEvent{
		EventType:  eventType,
		Target:     modelID,
		Success:    success,
		DurationMs: durationMs,
		Error:      errMsg,
		Fields:     map[string]interface{}{"tokens": unitCount},
		Message:    fmt.Sprintf("embed batch via %s: %d units (%dms, success=%v)", modelID, unitCount, durationMs, success),
	})
}

// VectorStoreOp logs a vector store upsert or query.
func (a *AuditLogger) VectorStoreOp(eventType AuditEventType, target string, durationMs int64) {
	a.Log(AuditEvent{
		EventType:  eventType,
		Target:     target,
		Success:    true,
		DurationMs: durationMs,
		Message:    fmt.Sprintf("vectorstore %s: %s (%dms)", eventType, target, durationMs),
	})
}

// DuplicateFound logs a duplicate group being formed.
func (a *AuditLogger) DuplicateFound(groupID string, duplicateType string, memberCount int) {
	a.Log(AuditEvent{
		EventType: AuditDuplicateFound,
		Target:    groupID,
		Success:   true,
		Fields:    map[string]interface{}{"duplicate_type": duplicateType, "member_count": memberCount},
		Message:   fmt.Sprintf("duplicate group %s (%s): %d members", groupID, duplicateType, memberCount),
	})
}

// GraphQuery logs a relationship graph query.
func (a *AuditLogger) GraphQuery(eventType AuditEventType, target string, durationMs int64) {
	a.Log(AuditEvent{
		EventType:  eventType,
		Target:     target,
		Success:    true,
		DurationMs: durationMs,
		Message:    fmt.Sprintf("graph %s on %s (%dms)", eventType, target, durationMs),
	})
}

// RunEvent logs an ingest run lifecycle transition.
func (a *AuditLogger) RunEvent(eventType AuditEventType, success bool) {
	a.Log(AuditEvent{
		EventType: eventType,
		RunID:     a.runID,
		Success:   success,
		Message:   fmt.Sprintf("run %s: %s (success=%v)", a.runID, eventType, success),
	})
}
