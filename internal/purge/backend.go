package purge

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/edgegate/gateway-core/internal/gwerrors"
	"github.com/edgegate/gateway-core/internal/signing"
)

// FastPurgeBackend implements PollFunc against the FastPurge status API
// through a signed signing.Client, the same pattern internal/certs'
// CPSBackend uses for the certificate provisioning API.
type FastPurgeBackend struct {
	client *signing.Client
	bundle *signing.Bundle
}

// NewFastPurgeBackend builds a FastPurgeBackend issuing every status
// check under bundle.
func NewFastPurgeBackend(client *signing.Client, bundle *signing.Bundle) *FastPurgeBackend {
	return &FastPurgeBackend{client: client, bundle: bundle}
}

type purgeStatusResponse struct {
	PurgeStatus string `json:"purgeStatus"`
}

// Poll satisfies PollFunc, translating the FastPurge status API's
// response into this package's BatchStatus.
func (b *FastPurgeBackend) Poll(ctx context.Context, purgeID string) (BatchStatus, string, error) {
	path := fmt.Sprintf("/ccu/v3/purges/%s", purgeID)
	resp, err := b.client.Do(ctx, b.bundle, signing.Request{Method: "GET", Path: path})
	if err != nil {
		return BatchFailed, err.Error(), err
	}

	var decoded purgeStatusResponse
	if err := json.Unmarshal(resp.Body, &decoded); err != nil {
		return BatchFailed, "", gwerrors.New(gwerrors.KindUpstream, "decoding purge status response: "+err.Error(), nil)
	}

	switch decoded.PurgeStatus {
	case "Done":
		return BatchCompleted, "", nil
	case "In-Progress":
		return BatchInProgress, "", nil
	case "Failed":
		return BatchFailed, "purge failed upstream", nil
	default:
		return BatchPending, "", nil
	}
}
