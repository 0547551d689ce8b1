package sqlstore

import "github.com/goliatone/go-agentpay/core"

var (
	_ core.StoreProvider          = (*RepositoryFactory)(nil)
	_ core.RepositoryStoreFactory = (*RepositoryFactory)(nil)
	_ core.UnitOfWork             = (*RepositoryFactory)(nil)
	_ core.TxStores               = (*txStores)(nil)
)
