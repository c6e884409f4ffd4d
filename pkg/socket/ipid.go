package socket

import "sync/atomic"

// ipIDCounter numbers the IPv4 packets carrying emitted ACKs, process-wide,
// so captured ACKs never share a zero IP ID.
var ipIDCounter uint32

func nextIPID() uint16 { return uint16(atomic.AddUint32(&ipIDCounter, 1)) }
