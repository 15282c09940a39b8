package jobs

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskTypeExtract is the task type for file-metadata extraction.
	TaskTypeExtract = "exif:extract"
)

// ExtractPayload describes one metadata-extraction request.
type ExtractPayload struct {
	ChatID    int64  `json:"chat_id"`
	Principal int64  `json:"principal"`
	FileID    string `json:"file_id"`
	FileName  string `json:"file_name"`
}

// NewExtractTask constructs an Asynq task for the payload.
func NewExtractTask(payload ExtractPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeExtract, data), nil
}
