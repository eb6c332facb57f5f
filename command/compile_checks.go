package command

import (
	gocmd "github.com/goliatone/go-command"
	"github.com/goliatone/go-credentials/core"
)

var (
	_ gocmd.Commander[StartAuthorizationMessage]    = (*StartAuthorizationCommand)(nil)
	_ gocmd.Commander[CompleteAuthorizationMessage] = (*CompleteAuthorizationCommand)(nil)
	_ gocmd.Commander[DisconnectAccountMessage]     = (*DisconnectAccountCommand)(nil)
	_ gocmd.Commander[RefreshCredentialMessage]     = (*RefreshCredentialCommand)(nil)
	_ gocmd.Commander[RecordUsageMessage]           = (*RecordUsageCommand)(nil)
	_ gocmd.Commander[CreateTenantMessage]          = (*CreateTenantCommand)(nil)
	_ MutatingService                               = (*core.Service)(nil)
)
