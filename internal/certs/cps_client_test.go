package certs

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/edgegate/gateway-core/internal/signing"
)

func testBundle(host string) *signing.Bundle {
	return &signing.Bundle{
		ClientToken: "ct",
		AccessToken: "at",
		Secret:      []byte("s3cr3t"),
		Host:        host,
	}
}

func TestCPSBackendInitiateDeploymentParsesID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"deploymentId":"dep-42"}`))
	}))
	defer srv.Close()

	client := signing.NewClientWithScheme(nil, "http")
	backend := NewCPSBackend(client, testBundle(srv.Listener.Addr().String()))

	id, err := backend.InitiateDeployment(context.Background(), "enr-1", NetworkStaging)
	if err != nil {
		t.Fatalf("InitiateDeployment: %v", err)
	}
	if id != "dep-42" {
		t.Fatalf("expected dep-42, got %s", id)
	}
}

func TestCPSBackendDeploymentStatusParsesStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"active"}`))
	}))
	defer srv.Close()

	client := signing.NewClientWithScheme(nil, "http")
	backend := NewCPSBackend(client, testBundle(srv.Listener.Addr().String()))

	status, err := backend.DeploymentStatus(context.Background(), "enr-1", "dep-42")
	if err != nil {
		t.Fatalf("DeploymentStatus: %v", err)
	}
	if status != "active" {
		t.Fatalf("expected active, got %s", status)
	}
}

func TestCPSBackendCancelDeploymentPropagatesError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"title":"cannot cancel"}`))
	}))
	defer srv.Close()

	client := signing.NewClientWithScheme(nil, "http")
	backend := NewCPSBackend(client, testBundle(srv.Listener.Addr().String()))

	if err := backend.CancelDeployment(context.Background(), "enr-1", "dep-42"); err == nil {
		t.Fatal("expected an error for 400 response")
	}
}
