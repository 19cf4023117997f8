package utils

import (
	"fmt"
	"sync/atomic"
	"time"
)

var idSeq uint64

// GenMessageID returns a server-assigned message id. The timestamp prefix
// keeps ids roughly sortable; the counter breaks ties within a nanosecond.
func GenMessageID() string {
	n := time.Now().UTC().UnixNano()
	s := atomic.AddUint64(&idSeq, 1)
	return fmt.Sprintf("msg-%d-%d", n, s)
}
