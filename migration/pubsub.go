package migration

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"bitbucket.org/mmdatafocus/migration_backend/config"
	"bitbucket.org/mmdatafocus/migration_backend/models"
	"github.com/gin-gonic/gin"
)

// MigrationJobMessage is the Pub/Sub payload for one background job. The job
// row is the source of truth; the message is only a wake-up call, so
// duplicate or out-of-order delivery is harmless.
type MigrationJobMessage struct {
	JobId         string                  `json:"job_id"`
	SessionId     string                  `json:"session_id"`
	BusinessId    string                  `json:"business_id"`
	Kind          models.MigrationJobKind `json:"kind"`
	SkipWarnings  bool                    `json:"skip_warnings"`
	CorrelationId string                  `json:"correlation_id"`
}

func PublishMigrationJob(ctx context.Context, job *models.MigrationJob) error {
	msg := MigrationJobMessage{
		JobId:        job.ID,
		SessionId:    job.SessionId,
		BusinessId:   job.BusinessId,
		Kind:         job.Kind,
		SkipWarnings: job.SkipWarnings,
	}
	_, err := config.PublishJSON(ctx, config.MigrationJobsTopic(), msg)
	return err
}

// pushEnvelope is the wrapper Google Pub/Sub push subscriptions POST to the
// endpoint. Message.Data is base64 and decoded by encoding/json.
type pushEnvelope struct {
	Message struct {
		Data      []byte `json:"data"`
		MessageId string `json:"messageId"`
	} `json:"message"`
	Subscription string `json:"subscription"`
}

// HandleMigrationJobPush is the push-subscription endpoint. Response codes
// drive redelivery: 2xx acks, anything else redelivers. Poisoned messages
// (undecodable, or referencing a job that no longer exists) are acked with
// 204 so they don't loop forever.
func HandleMigrationJobPush(processor *Processor) gin.HandlerFunc {
	return func(c *gin.Context) {
		logger := config.GetLogger()

		var envelope pushEnvelope
		if err := c.ShouldBindJSON(&envelope); err != nil {
			config.LogError(logger, "migration", "HandleMigrationJobPush", "bad envelope", nil, err)
			c.Status(http.StatusNoContent)
			return
		}

		var msg MigrationJobMessage
		if err := json.Unmarshal(envelope.Message.Data, &msg); err != nil || msg.JobId == "" {
			config.LogError(logger, "migration", "HandleMigrationJobPush", "bad job message", map[string]interface{}{
				"messageId": envelope.Message.MessageId,
			}, errors.New("undecodable job message"))
			c.Status(http.StatusNoContent)
			return
		}

		err := processor.ProcessJob(c.Request.Context(), msg.JobId)
		switch {
		case err == nil:
			c.Status(http.StatusNoContent)
		case errors.Is(err, models.ErrJobNotFound):
			c.Status(http.StatusNoContent)
		case errors.Is(err, ErrImportLockHeld):
			// another instance holds the session; let Pub/Sub retry later
			c.Status(http.StatusServiceUnavailable)
		default:
			config.LogError(logger, "migration", "HandleMigrationJobPush", "process job", map[string]interface{}{
				"jobId": msg.JobId,
			}, err)
			c.Status(http.StatusInternalServerError)
		}
	}
}
