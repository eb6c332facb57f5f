package query

import (
	gocmd "github.com/goliatone/go-command"
	"github.com/goliatone/go-credentials/core"
)

var (
	_ gocmd.Querier[UsableCredentialMessage, core.UsableCredential] = (*UsableCredentialQuery)(nil)
	_ gocmd.Querier[TenantHealthMessage, core.HealthSummary]        = (*TenantHealthQuery)(nil)
	_ gocmd.Querier[ListAccountsMessage, []core.ConnectedAccount]   = (*ListAccountsQuery)(nil)
	_ gocmd.Querier[ListRefreshEventsMessage, []core.RefreshEvent]  = (*ListRefreshEventsQuery)(nil)
	_ CredentialReader                                              = (*core.Service)(nil)
	_ HealthReader                                                  = (*core.Service)(nil)
	_ AccountReader                                                 = (*core.Service)(nil)
	_ RefreshEventReader                                            = (*core.Service)(nil)
)

