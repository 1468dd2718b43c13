package web

import (
	"encoding/json"
	"net/http"
	"strings"

	cloudevents "github.com/cloudevents/sdk-go/v2"

	"github.com/hpungsan/callcoach/internal/errors"
	"github.com/hpungsan/callcoach/internal/ops"
)

// objectFinalized is the GCS event type for a completed object write.
const objectFinalized = "google.cloud.storage.object.v1.finalized"

// storageObject is the subset of the GCS object resource carried as event data.
type storageObject struct {
	Bucket   string            `json:"bucket"`
	Name     string            `json:"name"`
	Metadata map[string]string `json:"metadata"`
}

// HandleStorageEvent accepts a CloudEvent from the storage trigger, binary or
// structured mode. Finalized objects carrying the upload payload complete
// their ingestion; anything else is acknowledged and ignored so the trigger
// does not redeliver it.
func (h *Handlers) HandleStorageEvent(w http.ResponseWriter, r *http.Request) {
	event, err := cloudevents.NewEventFromHTTPRequest(r)
	if err != nil {
		renderError(w, errors.NewInvalidRequest("invalid cloudevent: "+err.Error()))
		return
	}
	log := h.log.WithRequest(r).WithField("event_id", event.ID()).WithField("event_type", event.Type())

	if event.Type() != objectFinalized {
		log.Debug("ignoring storage event")
		renderJSON(w, http.StatusOK, map[string]any{"ignored": true})
		return
	}

	var obj storageObject
	if err := json.Unmarshal(event.Data(), &obj); err != nil {
		renderError(w, errors.NewInvalidRequest("invalid storage object data: "+err.Error()))
		return
	}
	token := obj.Metadata[ops.UploadMetadataKey]
	if strings.TrimSpace(obj.Name) == "" || token == "" {
		log.WithField("object", obj.Name).Debug("object has no upload payload, ignoring")
		renderJSON(w, http.StatusOK, map[string]any{"ignored": true})
		return
	}

	h.complete(w, r, ops.CompleteInput{ObjectRef: obj.Name, SignedPayload: token})
}
