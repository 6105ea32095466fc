// Package metrics 进程内计数器（expvar），通过 /debug/vars 暴露
package metrics

import "expvar"

// 看板客户端
var (
	SnapshotsApplied = expvar.NewInt("botdash_snapshots_applied")
	SnapshotFailures = expvar.NewInt("botdash_snapshot_failures")
	FramesDecoded    = expvar.NewInt("botdash_frames_decoded")
	FramesDropped    = expvar.NewInt("botdash_frames_dropped")
	StreamReconnects = expvar.NewInt("botdash_stream_reconnects")
	ActionsAccepted  = expvar.NewInt("botdash_actions_accepted")
	ActionsRejected  = expvar.NewInt("botdash_actions_rejected")
)

// fleetd
var (
	Broadcasts     = expvar.NewInt("fleetd_broadcasts")
	SlowClientDrop = expvar.NewInt("fleetd_slow_client_drops")
	WSClients      = expvar.NewInt("fleetd_ws_clients")
)
