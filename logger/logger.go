// Package logger provides adapters for popular logger libraries to work with snaptree's Logger interface.
//
// The adapters allow you to use your existing logger with snaptree without writing boilerplate.
// Note that the standard library's slog.Logger already implements snaptree.Logger directly.
//
// Example with logrus:
//
//	import (
//	    "snaptree"
//	    "snaptree/logger"
//	    "github.com/sirupsen/logrus"
//	)
//
//	func main() {
//	    log := logrus.New()
//
//	    db, err := snaptree.Open("data.db", snaptree.WithLogger(logger.NewLogrus(log)))
//	    if err != nil {
//	        panic(err)
//	    }
//	    defer db.Close()
//	}
package logger
