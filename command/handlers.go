package command

import (
	"context"

	gocmd "github.com/goliatone/go-command"
	"github.com/goliatone/go-credentials/core"
)

type MutatingService interface {
	CreateTenant(ctx context.Context, in core.CreateTenantInput) (core.Tenant, error)
	StartAuthorization(ctx context.Context, req core.StartAuthorizationRequest) (core.AuthorizationStart, error)
	CompleteAuthorization(ctx context.Context, req core.CompleteAuthorizationRequest) (core.AuthorizationCompletion, error)
	DisconnectAccount(ctx context.Context, tenantID string, ref core.AccountRef, reason string) error
	RefreshCredential(ctx context.Context, tenantID string, credentialID string, trigger core.RefreshTrigger) (core.RefreshResult, error)
	RecordUsage(ctx context.Context, tenantID string, ref core.AccountRef) error
}

type StartAuthorizationCommand struct {
	service MutatingService
}

func NewStartAuthorizationCommand(service MutatingService) *StartAuthorizationCommand {
	return &StartAuthorizationCommand{service: service}
}

func (c *StartAuthorizationCommand) Execute(ctx context.Context, msg StartAuthorizationMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: authorization service is required")
	}
	out, err := c.service.StartAuthorization(ctx, msg.Request)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type CompleteAuthorizationCommand struct {
	service MutatingService
}

func NewCompleteAuthorizationCommand(service MutatingService) *CompleteAuthorizationCommand {
	return &CompleteAuthorizationCommand{service: service}
}

func (c *CompleteAuthorizationCommand) Execute(ctx context.Context, msg CompleteAuthorizationMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: authorization service is required")
	}
	out, err := c.service.CompleteAuthorization(ctx, msg.Request)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type DisconnectAccountCommand struct {
	service MutatingService
}

func NewDisconnectAccountCommand(service MutatingService) *DisconnectAccountCommand {
	return &DisconnectAccountCommand{service: service}
}

func (c *DisconnectAccountCommand) Execute(ctx context.Context, msg DisconnectAccountMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: disconnect service is required")
	}
	return c.service.DisconnectAccount(ctx, msg.TenantID, msg.Account, msg.Reason)
}

type RefreshCredentialCommand struct {
	service MutatingService
}

func NewRefreshCredentialCommand(service MutatingService) *RefreshCredentialCommand {
	return &RefreshCredentialCommand{service: service}
}

func (c *RefreshCredentialCommand) Execute(ctx context.Context, msg RefreshCredentialMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: refresh service is required")
	}
	trigger := msg.Trigger
	if trigger == "" {
		trigger = core.RefreshTriggerManual
	}
	out, err := c.service.RefreshCredential(ctx, msg.TenantID, msg.CredentialID, trigger)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type RecordUsageCommand struct {
	service MutatingService
}

func NewRecordUsageCommand(service MutatingService) *RecordUsageCommand {
	return &RecordUsageCommand{service: service}
}

func (c *RecordUsageCommand) Execute(ctx context.Context, msg RecordUsageMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: usage service is required")
	}
	return c.service.RecordUsage(ctx, msg.TenantID, msg.Account)
}

type CreateTenantCommand struct {
	service MutatingService
}

func NewCreateTenantCommand(service MutatingService) *CreateTenantCommand {
	return &CreateTenantCommand{service: service}
}

func (c *CreateTenantCommand) Execute(ctx context.Context, msg CreateTenantMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: tenant service is required")
	}
	out, err := c.service.CreateTenant(ctx, msg.Input)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

func storeResult[T any](ctx context.Context, value T) {
	collector := gocmd.ResultFromContext[T](ctx)
	if collector == nil {
		return
	}
	collector.Store(value)
}
