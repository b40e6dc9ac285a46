package certs

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/edgegate/gateway-core/internal/gwerrors"
	"github.com/edgegate/gateway-core/internal/signing"
)

// CPSBackend implements BackendClient against the certificate provisioning
// API through a signed signing.Client, the same client used by every other
// signed call in the gateway (spec §4.1).
type CPSBackend struct {
	client *signing.Client
	bundle *signing.Bundle
}

// NewCPSBackend builds a CPSBackend issuing every call under bundle.
func NewCPSBackend(client *signing.Client, bundle *signing.Bundle) *CPSBackend {
	return &CPSBackend{client: client, bundle: bundle}
}

type initiateDeploymentResponse struct {
	DeploymentID string `json:"deploymentId"`
}

func (b *CPSBackend) InitiateDeployment(ctx context.Context, enrollmentID string, network Network) (string, error) {
	path := fmt.Sprintf("/cps/v2/enrollments/%s/deployments", enrollmentID)
	body, err := json.Marshal(map[string]string{"network": string(network)})
	if err != nil {
		return "", gwerrors.New(gwerrors.KindInternal, "encoding deployment request: "+err.Error(), nil)
	}

	resp, err := b.client.Do(ctx, b.bundle, signing.Request{
		Method:      "POST",
		Path:        path,
		Body:        body,
		ContentType: "application/json",
	})
	if err != nil {
		return "", err
	}

	var decoded initiateDeploymentResponse
	if err := json.Unmarshal(resp.Body, &decoded); err != nil {
		return "", gwerrors.New(gwerrors.KindUpstream, "decoding deployment response: "+err.Error(), nil)
	}
	return decoded.DeploymentID, nil
}

type deploymentStatusResponse struct {
	Status string `json:"status"`
}

func (b *CPSBackend) DeploymentStatus(ctx context.Context, enrollmentID, deploymentID string) (string, error) {
	path := fmt.Sprintf("/cps/v2/enrollments/%s/deployments/%s", enrollmentID, deploymentID)
	resp, err := b.client.Do(ctx, b.bundle, signing.Request{Method: "GET", Path: path})
	if err != nil {
		return "", err
	}

	var decoded deploymentStatusResponse
	if err := json.Unmarshal(resp.Body, &decoded); err != nil {
		return "", gwerrors.New(gwerrors.KindUpstream, "decoding status response: "+err.Error(), nil)
	}
	return decoded.Status, nil
}

type linkPropertyResponse struct {
	Version int `json:"propertyVersion"`
}

func (b *CPSBackend) LinkProperty(ctx context.Context, enrollmentID, propertyID string) (int, error) {
	path := fmt.Sprintf("/cps/v2/enrollments/%s/properties/%s/link", enrollmentID, propertyID)
	resp, err := b.client.Do(ctx, b.bundle, signing.Request{Method: "POST", Path: path, Idempotent: false})
	if err != nil {
		return 0, err
	}

	var decoded linkPropertyResponse
	if err := json.Unmarshal(resp.Body, &decoded); err != nil {
		return 0, gwerrors.New(gwerrors.KindUpstream, "decoding link response: "+err.Error(), nil)
	}
	return decoded.Version, nil
}

func (b *CPSBackend) CancelDeployment(ctx context.Context, enrollmentID, deploymentID string) error {
	path := fmt.Sprintf("/cps/v2/enrollments/%s/deployments/%s/cancel", enrollmentID, deploymentID)
	_, err := b.client.Do(ctx, b.bundle, signing.Request{Method: "POST", Path: path})
	return err
}
