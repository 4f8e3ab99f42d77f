// Package generated — типы и chi-обвязка HTTP API Hash Index в формате
// oapi-codegen (chi-server). Контракт описан в openapi.yaml и должен
// изменяться синхронно с этим пакетом.
package generated

import (
	openapi_types "github.com/oapi-codegen/runtime/types"
)

const (
	BearerAuthScopes = "bearerAuth.Scopes"
)

// Defines values for EventAcceptedStatus.
const (
	Accepted EventAcceptedStatus = "accepted"
)

// Defines values for FileEventType.
const (
	FileUpdated    FileEventType = "file_updated"
	UploadComplete FileEventType = "upload_complete"
)

// Defines values for RecalculateResultStatus.
const (
	Cached        RecalculateResultStatus = "cached"
	Computed      RecalculateResultStatus = "computed"
	NotAccessible RecalculateResultStatus = "not_accessible"
)

// Error defines model for Error.
type Error struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// EventAccepted defines model for EventAccepted.
type EventAccepted struct {
	Status EventAcceptedStatus `json:"status"`
}

// EventAcceptedStatus defines model for EventAccepted.Status.
type EventAcceptedStatus string

// FileDigest defines model for FileDigest.
type FileDigest struct {
	FileId openapi_types.UUID `json:"file_id"`
	Sha1   *string            `json:"sha1"`
}

// FileDigestList defines model for FileDigestList.
type FileDigestList struct {
	HasMore bool         `json:"has_more"`
	Items   []FileDigest `json:"items"`
	Limit   int          `json:"limit"`
	Offset  int          `json:"offset"`
	Total   int          `json:"total"`
}

// FileEvent defines model for FileEvent.
type FileEvent struct {
	FileId openapi_types.UUID `json:"file_id"`
	Type   FileEventType      `json:"type"`
}

// FileEventType defines model for FileEvent.Type.
type FileEventType string

// RecalculateResult defines model for RecalculateResult.
type RecalculateResult struct {
	FileId openapi_types.UUID      `json:"file_id"`
	Sha1   *string                 `json:"sha1"`
	Status RecalculateResultStatus `json:"status"`
}

// RecalculateResultStatus defines model for RecalculateResult.Status.
type RecalculateResultStatus string

// FileId defines model for FileId.
type FileId = openapi_types.UUID

// Limit defines model for Limit.
type Limit = int

// Offset defines model for Offset.
type Offset = int

// ListFilesParams defines parameters for ListFiles.
type ListFilesParams struct {
	// Sha1 SHA-1 в hex (40 символов, регистр не важен)
	Sha1   string  `form:"sha1" json:"sha1"`
	Limit  *Limit  `form:"limit,omitempty" json:"limit,omitempty"`
	Offset *Offset `form:"offset,omitempty" json:"offset,omitempty"`
}

// PostFileEventJSONRequestBody defines body for PostFileEvent for application/json ContentType.
type PostFileEventJSONRequestBody = FileEvent
