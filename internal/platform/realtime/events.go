package realtime

import "encoding/json"

// Event names pushed by the server.
const (
	EventChatMessage      = "chat:message"
	EventFileUploadDone   = "file:upload:done"
	EventFileAnalysis     = "file:analysis"
	EventFileDelete       = "file:delete"
	EventViewerState      = "viewer:state"
	EventAnnotationSync   = "annotation:sync"
	EventAnnotationCreate = "annotation:created"
	EventAnnotationUpdate = "annotation:updated"
	EventAnnotationDelete = "annotation:deleted"
	EventNotification     = "notification"
	EventUpdate           = "update"
	EventError            = "error"
)

// Event names accepted from clients.
const (
	inViewerJoin       = "viewer:join"
	inViewerLeave      = "viewer:leave"
	inViewerUpdate     = "viewer:update"
	inAnnotationCreate = "annotation:create"
	inAnnotationUpdate = "annotation:update"
	inAnnotationDelete = "annotation:delete"
)

// Envelope is the outbound frame: an event name plus its payload.
type Envelope struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data,omitempty"`
}

// inboundMessage is the parsed shape of a client frame; Data decoding is
// deferred until the event name is known.
type inboundMessage struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// viewerPayload is the Data of viewer:join / viewer:update / viewer:leave.
type viewerPayload struct {
	FileID   string    `json:"file_id"`
	Cursor   *Cursor   `json:"cursor,omitempty"`
	Viewport *Viewport `json:"viewport,omitempty"`
}

// annotationPayload is the Data of annotation:create/update/delete.
type annotationPayload struct {
	ID       string          `json:"id,omitempty"`
	FileID   string          `json:"file_id"`
	Kind     string          `json:"kind,omitempty"`
	Geometry json.RawMessage `json:"geometry,omitempty"`
	Text     string          `json:"text,omitempty"`
}

// annotationSyncPayload carries a file's full annotation list to a client
// that just joined its room.
type annotationSyncPayload struct {
	FileID      string        `json:"file_id"`
	Annotations []*Annotation `json:"annotations"`
}

// errorPayload is the Data of an error event sent back to a client.
type errorPayload struct {
	Message string `json:"message"`
}

// Room name helpers. Every socket auto-joins its user and role rooms; file
// rooms are joined on demand.
func UserRoom(userID string) string { return "user:" + userID }
func RoleRoom(role string) string   { return "role:" + role }
func FileRoom(fileID string) string { return "file:" + fileID }
