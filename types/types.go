package types

// LifecycleManager is implemented by components that run background work
// (tickers, sweeps, collection loops) and need an explicit start/stop cycle.
type LifecycleManager interface {
	Start() error
	Stop() error
	IsRunning() bool
}
