package common

const (
	ComponentWatcher    = "watcher"
	ComponentRPC        = "rpc-client"
	ComponentDecoder    = "decoder"
	ComponentReconciler = "reconciler"
	ComponentStore      = "stream-store"
	ComponentMetrics    = "metrics"
)

var AllComponents = map[string]struct{}{
	ComponentWatcher:    {},
	ComponentRPC:        {},
	ComponentDecoder:    {},
	ComponentReconciler: {},
	ComponentStore:      {},
	ComponentMetrics:    {},
}
