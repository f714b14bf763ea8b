//go:build llama

package engine

// Go-side callbacks invoked from the native runtime. Kept in their own file:
// cgo forbids C definitions in the preamble of a file using //export.

/*
#include <stdlib.h>
*/
import "C"

import "time"

//export loradLogLine
func loradLogLine(line *C.char) {
	llMu.Lock()
	sink := llLogSink
	llMu.Unlock()
	if sink == nil {
		return
	}
	msg := C.GoString(line)
	for len(msg) > 0 && msg[len(msg)-1] == '\n' {
		msg = msg[:len(msg)-1]
	}
	if msg != "" {
		sink(msg)
	}
}

//export loradOptLR
func loradOptLR() C.float {
	llMu.Lock()
	fn, epoch := llLRFn, llEpoch
	llMu.Unlock()
	if fn == nil {
		return 0
	}
	return C.float(fn(epoch))
}

//export loradOptWD
func loradOptWD() C.float {
	llMu.Lock()
	defer llMu.Unlock()
	return C.float(llWD)
}

//export loradOptProgress
func loradOptProgress(train C.int, ibatch, ibatchMax C.longlong, loss, elapsedS C.double) {
	llMu.Lock()
	fn := llProgress
	llMu.Unlock()
	if fn == nil {
		return
	}
	fn(Progress{
		Train:    train != 0,
		Batch:    int(ibatch),
		BatchMax: int(ibatchMax),
		Loss:     float64(loss),
		Elapsed:  time.Duration(float64(elapsedS) * float64(time.Second)),
	})
}
