package observability

import (
	"fmt"
	"runtime/debug"

	"github.com/sirupsen/logrus"
)

// RecoverPanic recovers a panic in the calling goroutine and logs it with
// the stack. Use it deferred at the top of background goroutines:
//
//	go func() {
//		defer observability.RecoverPanic(logger, "forward connection")
//		serve(conn)
//	}()
func RecoverPanic(logger logrus.FieldLogger, where string) {
	if r := recover(); r != nil {
		logPanic(logger, where, r)
	}
}

// RecoverPanicWithCallback recovers a panic, logs it and passes the
// recovered value to callback as an error.
func RecoverPanicWithCallback(logger logrus.FieldLogger, where string, callback func(error)) {
	if r := recover(); r != nil {
		logPanic(logger, where, r)
		if callback != nil {
			callback(fmt.Errorf("panic in %s: %v", where, r))
		}
	}
}

func logPanic(logger logrus.FieldLogger, where string, r interface{}) {
	OrDiscard(logger).WithFields(logrus.Fields{
		"panic":      fmt.Sprintf("%v", r),
		"stack":      string(debug.Stack()),
		"goroutine":  where,
		"error_type": "panic",
	}).Error("panic recovered")
}
