package erpsync

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"strings"

	"bitbucket.org/mmdatafocus/commissions_backend/config"
	"bitbucket.org/mmdatafocus/commissions_backend/models"
	"cloud.google.com/go/pubsub"
	"github.com/gin-gonic/gin"
)

func syncTopicName() string {
	if v := strings.TrimSpace(os.Getenv("ERP_SYNC_TOPIC")); v != "" {
		return v
	}
	return "erp-sync"
}

// PublishSyncRun queues a sync invocation; a push subscription delivers it
// to PubSubPushHandler on some instance.
func PublishSyncRun(ctx context.Context, params SyncParams) error {
	client, err := config.GetClient(ctx)
	if err != nil {
		return err
	}

	topic := client.Topic(syncTopicName())
	if envBoolDefault("ERP_SYNC_CREATE_TOPIC", false) {
		topic, err = config.CreateTopicIfNotExists(client, syncTopicName())
		if err != nil {
			return err
		}
	}

	payload := SyncPubSubPayload{Params: params}
	data, _ := json.Marshal(payload)
	res := topic.Publish(ctx, &pubsub.Message{Data: data})
	_, err = res.Get(ctx)
	return err
}

// PubSubPushHandler processes queued sync invocations. It always responds
// 204: Pub/Sub redelivery of a run that already executed would double-sync,
// and the run lock plus run history make failures visible anyway.
func PubSubPushHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !envBoolDefault("ENABLE_ERP_SYNC_PUBSUB_PUSH", true) {
			c.Status(204)
			return
		}

		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.Status(204)
			return
		}

		var envelope PubSubPushEnvelope
		if err := json.Unmarshal(body, &envelope); err != nil {
			c.Status(204)
			return
		}

		var payload SyncPubSubPayload
		if err := json.Unmarshal(envelope.Message.Data, &payload); err != nil {
			c.Status(204)
			return
		}

		payload.Params.TriggeredBy = models.SyncTriggeredSystem
		_, _ = withRunLock(c.Request.Context(), func(ctx context.Context) (*RunResult, error) {
			return RunSync(ctx, payload.Params)
		})
		c.Status(204)
	}
}

func envBoolDefault(key string, def bool) bool {
	val := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	switch val {
	case "true", "1", "yes", "y", "on":
		return true
	case "false", "0", "no", "n", "off":
		return false
	default:
		return def
	}
}
