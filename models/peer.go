// models/peer.go
package models

type PeerRecord struct {
	Address   string `json:"address"`
	PublicKey string `json:"public_key"`
}

// NodeStatus is the telemetry snapshot reported by the ledger node.
type NodeStatus struct {
	Peers         uint64 `json:"peers"`
	Blocks        uint64 `json:"blocks"`
	TxsAccepted   uint64 `json:"txs_accepted"`
	TxsRejected   uint64 `json:"txs_rejected"`
	UptimeSeconds uint64 `json:"uptime_seconds"`
}
