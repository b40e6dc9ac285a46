package dispatch

import (
	"context"
	"encoding/json"

	"github.com/edgegate/gateway-core/internal/certs"
	"github.com/edgegate/gateway-core/internal/gwerrors"
)

// RegisterCertTools wires the certificate deployment coordinator (spec
// §4.5) into reg.
func RegisterCertTools(reg *Registry) {
	reg.MustRegister(ToolDefinition{
		Name:           "certs.deploy",
		Description:    "Deploy an enrollment's certificate to a network, optionally auto-linking properties once deployed.",
		RequiredScopes: []string{"certs:write"},
	}, handleCertsDeploy)

	reg.MustRegister(ToolDefinition{
		Name:           "certs.status",
		Description:    "Fetch the current state of a certificate deployment.",
		RequiredScopes: []string{"certs:read"},
	}, handleCertsStatus)

	reg.MustRegister(ToolDefinition{
		Name:           "certs.rollback",
		Description:    "Cancel an in-flight or completed deployment and mark it rolled back.",
		RequiredScopes: []string{"certs:write"},
	}, handleCertsRollback)
}

type certsDeployArgs struct {
	EnrollmentID        string   `json:"enrollment_id"`
	Network             string   `json:"network"`
	AllDomainsValidated bool     `json:"all_domains_validated"`
	EnrollmentStatus    string   `json:"enrollment_status"`
	AutoLinkProperties  []string `json:"auto_link_properties,omitempty"`
	LinkMode            string   `json:"link_mode,omitempty"`
	RollbackOnFailure   bool     `json:"rollback_on_failure"`
}

func handleCertsDeploy(ctx context.Context, toolCtx *ToolContext, args json.RawMessage) (any, error) {
	if toolCtx.Subsystems.Certs == nil {
		return nil, gwerrors.New(gwerrors.KindInternal, "certificate deployment backend not configured", nil)
	}
	var a certsDeployArgs
	if err := json.Unmarshal(args, &a); err != nil || a.EnrollmentID == "" {
		return nil, gwerrors.New(gwerrors.KindValidation, "certs.deploy requires an enrollment_id", nil)
	}

	linkMode := certs.LinkSequential
	if a.LinkMode == string(certs.LinkParallel) {
		linkMode = certs.LinkParallel
	}

	precondition := certs.EnrollmentPrecondition{
		AllDomainsValidated: a.AllDomainsValidated,
		EnrollmentStatus:    a.EnrollmentStatus,
	}

	deployment, err := toolCtx.Subsystems.Certs.Deploy(
		ctx, a.EnrollmentID, certs.Network(a.Network), precondition,
		a.AutoLinkProperties, linkMode, a.RollbackOnFailure,
	)
	if err != nil {
		return nil, err
	}
	return deployment, nil
}

type certsStatusArgs struct {
	EnrollmentID string `json:"enrollment_id"`
}

func handleCertsStatus(ctx context.Context, toolCtx *ToolContext, args json.RawMessage) (any, error) {
	if toolCtx.Subsystems.Certs == nil {
		return nil, gwerrors.New(gwerrors.KindInternal, "certificate deployment backend not configured", nil)
	}
	var a certsStatusArgs
	if err := json.Unmarshal(args, &a); err != nil || a.EnrollmentID == "" {
		return nil, gwerrors.New(gwerrors.KindValidation, "certs.status requires an enrollment_id", nil)
	}
	deployment, ok := toolCtx.Subsystems.Certs.Get(a.EnrollmentID)
	if !ok {
		return nil, gwerrors.New(gwerrors.KindNotFound, "no deployment known for enrollment", nil)
	}
	return deployment, nil
}

type certsRollbackArgs struct {
	EnrollmentID string `json:"enrollment_id"`
	DeploymentID string `json:"deployment_id"`
}

func handleCertsRollback(ctx context.Context, toolCtx *ToolContext, args json.RawMessage) (any, error) {
	if toolCtx.Subsystems.Certs == nil {
		return nil, gwerrors.New(gwerrors.KindInternal, "certificate deployment backend not configured", nil)
	}
	var a certsRollbackArgs
	if err := json.Unmarshal(args, &a); err != nil || a.EnrollmentID == "" || a.DeploymentID == "" {
		return nil, gwerrors.New(gwerrors.KindValidation, "certs.rollback requires enrollment_id and deployment_id", nil)
	}
	if err := toolCtx.Subsystems.Certs.Rollback(ctx, a.EnrollmentID, a.DeploymentID); err != nil {
		return nil, err
	}
	return map[string]any{"ok": true}, nil
}
