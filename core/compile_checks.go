package core

import glog "github.com/goliatone/go-logger/glog"

var (
	_ EventEmitter            = (*DispatchEmitter)(nil)
	_ RefreshBackoffScheduler = ExponentialBackoffScheduler{}
	_ RefreshLocker           = (*MemoryRefreshLocker)(nil)

	_ Logger         = glog.Nop()
	_ LoggerProvider = glog.ProviderFromLogger(glog.Nop())
)
