package link

import "sync/atomic"

// Stats is a snapshot of the counters of a port.
type Stats struct {
	RxFrames    uint64 `json:"rx_frames"`
	RxCRCErrors uint64 `json:"rx_crc_errors"`
	RxOverruns  uint64 `json:"rx_overruns"`
	RxMalformed uint64 `json:"rx_malformed"`
	RxDropped   uint64 `json:"rx_dropped"`
	TxFrames    uint64 `json:"tx_frames"`
	TxErrors    uint64 `json:"tx_errors"`
	Naks        uint64 `json:"naks"`
	Timeouts    uint64 `json:"timeouts"`
	StrayAcks   uint64 `json:"stray_acks"`
	Sessions    uint64 `json:"sessions"`
}

type counters struct {
	rxFrames    atomic.Uint64
	rxCRCErrors atomic.Uint64
	rxDropped   atomic.Uint64
	txFrames    atomic.Uint64
	txErrors    atomic.Uint64
	naks        atomic.Uint64
	timeouts    atomic.Uint64
	strayAcks   atomic.Uint64
	sessions    atomic.Uint64

	// mirrored from the assembler which is owned by the loop goroutine.
	rxOverruns  atomic.Uint64
	rxMalformed atomic.Uint64
}

func (c *counters) snapshot() Stats {
	return Stats{
		RxFrames:    c.rxFrames.Load(),
		RxCRCErrors: c.rxCRCErrors.Load(),
		RxOverruns:  c.rxOverruns.Load(),
		RxMalformed: c.rxMalformed.Load(),
		RxDropped:   c.rxDropped.Load(),
		TxFrames:    c.txFrames.Load(),
		TxErrors:    c.txErrors.Load(),
		Naks:        c.naks.Load(),
		Timeouts:    c.timeouts.Load(),
		StrayAcks:   c.strayAcks.Load(),
		Sessions:    c.sessions.Load(),
	}
}
