package handler

import (
	"time"

	"github.com/yndnr/shardkv/internal/infra/buildinfo"
	"github.com/yndnr/shardkv/internal/storage"
	"github.com/yndnr/shardkv/internal/storage/snapshot"
)

// Response is the JSON envelope of every admin response except /metrics.
type Response struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id"`
	Timestamp int64  `json:"timestamp"`
	Data      any    `json:"data,omitempty"`
	Details   any    `json:"details,omitempty"`
}

// NewResponse creates a success response.
func NewResponse(requestID string, data any) *Response {
	return &Response{
		Code:      "OK",
		Message:   "Success",
		RequestID: requestID,
		Timestamp: time.Now().UnixMilli(),
		Data:      data,
	}
}

// NewErrorResponse creates an error response.
func NewErrorResponse(requestID, code, message string, details any) *Response {
	return &Response{
		Code:      code,
		Message:   message,
		RequestID: requestID,
		Timestamp: time.Now().UnixMilli(),
		Details:   details,
	}
}

// HealthResponse is the body of GET /healthz and GET /readyz.
type HealthResponse struct {
	Status   string         `json:"status"`
	Degraded bool           `json:"degraded"`
	Version  buildinfo.Info `json:"version"`
}

// SnapshotRequest is the optional body of POST /admin/snapshot. An empty
// Path takes a managed snapshot in the snapshot directory.
type SnapshotRequest struct {
	Path string `json:"path,omitempty"`
}

// RecoverRequest is the body of POST /admin/recover. An empty Path reloads
// the newest managed snapshot.
type RecoverRequest struct {
	Path string `json:"path,omitempty"`
}

// SnapshotResponse describes a written snapshot.
type SnapshotResponse struct {
	Snapshot  *snapshot.Info `json:"snapshot"`
	ElapsedMS int64          `json:"elapsed_ms"`
}

// ResumeResponse is the body of POST /admin/resume.
type ResumeResponse struct {
	Resumed  bool           `json:"resumed"`
	Snapshot *snapshot.Info `json:"snapshot,omitempty"`
}

// FlushResponse is the body of POST /admin/flush.
type FlushResponse struct {
	Removed int `json:"removed"`
}

// RecoverResponse is the body of POST /admin/recover.
type RecoverResponse struct {
	Recovery *storage.RecoveryStats `json:"recovery"`
}

// SnapshotListResponse is the body of GET /admin/snapshots.
type SnapshotListResponse struct {
	Snapshots []*snapshot.Info `json:"snapshots"`
}
