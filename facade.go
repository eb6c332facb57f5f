package credentials

import (
	"fmt"

	credentialscommand "github.com/goliatone/go-credentials/command"
	credentialsquery "github.com/goliatone/go-credentials/query"
)

type CommandQueryService interface {
	credentialscommand.MutatingService
	credentialsquery.CredentialReader
	credentialsquery.HealthReader
	credentialsquery.AccountReader
}

type Commands struct {
	CreateTenant          *credentialscommand.CreateTenantCommand
	StartAuthorization    *credentialscommand.StartAuthorizationCommand
	CompleteAuthorization *credentialscommand.CompleteAuthorizationCommand
	DisconnectAccount     *credentialscommand.DisconnectAccountCommand
	RefreshCredential     *credentialscommand.RefreshCredentialCommand
	RecordUsage           *credentialscommand.RecordUsageCommand
}

type Queries struct {
	UsableCredential  *credentialsquery.UsableCredentialQuery
	TenantHealth      *credentialsquery.TenantHealthQuery
	ListAccounts      *credentialsquery.ListAccountsQuery
	ListRefreshEvents *credentialsquery.ListRefreshEventsQuery
}

type Facade struct {
	service  CommandQueryService
	commands Commands
	queries  Queries
}

type FacadeOption func(*facadeOptions)

type facadeOptions struct {
	refreshEventReader credentialsquery.RefreshEventReader
}

// WithRefreshEventReader overrides where refresh history is read from.
func WithRefreshEventReader(reader credentialsquery.RefreshEventReader) FacadeOption {
	return func(options *facadeOptions) {
		options.refreshEventReader = reader
	}
}

func NewFacade(service CommandQueryService, opts ...FacadeOption) (*Facade, error) {
	if service == nil {
		return nil, fmt.Errorf("credentials: command/query service is required")
	}
	cfg := facadeOptions{}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(&cfg)
	}

	reader := cfg.refreshEventReader
	if reader == nil {
		reader, _ = service.(credentialsquery.RefreshEventReader)
	}

	facade := &Facade{service: service}
	facade.commands = Commands{
		CreateTenant:          credentialscommand.NewCreateTenantCommand(service),
		StartAuthorization:    credentialscommand.NewStartAuthorizationCommand(service),
		CompleteAuthorization: credentialscommand.NewCompleteAuthorizationCommand(service),
		DisconnectAccount:     credentialscommand.NewDisconnectAccountCommand(service),
		RefreshCredential:     credentialscommand.NewRefreshCredentialCommand(service),
		RecordUsage:           credentialscommand.NewRecordUsageCommand(service),
	}
	facade.queries = Queries{
		UsableCredential:  credentialsquery.NewUsableCredentialQuery(service),
		TenantHealth:      credentialsquery.NewTenantHealthQuery(service),
		ListAccounts:      credentialsquery.NewListAccountsQuery(service),
		ListRefreshEvents: credentialsquery.NewListRefreshEventsQuery(reader),
	}

	return facade, nil
}

func (f *Facade) Commands() Commands {
	if f == nil {
		return Commands{}
	}
	return f.commands
}

func (f *Facade) Queries() Queries {
	if f == nil {
		return Queries{}
	}
	return f.queries
}

func (f *Facade) Service() CommandQueryService {
	if f == nil {
		return nil
	}
	return f.service
}
