package domain

import "time"

// JobKind names the payload carried by a queued job.
type JobKind string

const (
	JobKindMessageDelivery JobKind = "message_delivery"
	JobKindMediaUpload     JobKind = "media_upload"
	JobKindChannelSync     JobKind = "channel_sync"
)

// JobStatus is the lifecycle state of one queued job.
type JobStatus string

const (
	JobStatusQueued    JobStatus = "QUEUED"
	JobStatusRunning   JobStatus = "RUNNING"
	JobStatusSucceeded JobStatus = "SUCCEEDED"
	JobStatusFailed    JobStatus = "FAILED"
	JobStatusCanceled  JobStatus = "CANCELED"
)

// Job is one unit of queued, retryable work. The queue engine owns every
// mutation after enqueue.
type Job struct {
	ID        string    `json:"id"`
	Queue     string    `json:"queue"`
	Kind      JobKind   `json:"kind"`
	ChannelID int64     `json:"channelId"`
	Payload   []byte    `json:"payload"`
	Attempt   int32     `json:"attempt"`
	NextRunAt time.Time `json:"nextRunAt"`
	Status    JobStatus `json:"status"`
	LastError string    `json:"lastError,omitempty"`
	Ctime     int64     `json:"ctime"`
	Utime     int64     `json:"utime"`
}

// MediaUploadPayload is the media-upload queue payload: fetch the attachment,
// push it to the provider, then re-enqueue the delivery with the media id.
type MediaUploadPayload struct {
	Message  OutboundMessage `json:"message"`
	MaxBytes int64           `json:"maxBytes,omitempty"`
}

// ChannelSyncPayload is the channel-sync queue payload.
type ChannelSyncPayload struct {
	ChannelID int64 `json:"channelId"`
	// Forced marks syncs triggered by a session-invalidating error rather
	// than the periodic schedule.
	Forced bool `json:"forced"`
}
