// Package logger provides prefixed, asynchronous logging. Records are queued
// on a bounded channel and written by a single goroutine so the request path
// never blocks on log I/O. Function timings are logged via DeferLogDuration.
package logger

import (
	"fmt"
	"log"
	"os"
	"sync"
	"time"
)

const queueSize = 8192

// slowCallThreshold: at info level only calls slower than this are logged.
const slowCallThreshold = 100 * time.Millisecond

var (
	prefix   string
	logLevel = levelInfo
	ch       chan string
	once     sync.Once
)

type level int

const (
	levelDebug level = iota
	levelInfo
)

func initLevel() {
	switch os.Getenv("LOG_LEVEL") {
	case "debug", "trace":
		logLevel = levelDebug
	default:
		logLevel = levelInfo
	}
}

func initWorker() {
	initLevel()
	ch = make(chan string, queueSize)
	go func() {
		for msg := range ch {
			log.Print(msg)
		}
	}()
}

func enqueue(msg string) {
	once.Do(initWorker)
	select {
	case ch <- msg:
	default:
		// Queue full: drop the record rather than block the caller.
	}
}

// SetPrefix sets the service tag prepended to every record ("api", "push").
func SetPrefix(p string) {
	prefix = p
}

func tag() string {
	if prefix == "" {
		return ""
	}
	return "[" + prefix + "] "
}

func Info(v ...any) {
	enqueue(tag() + fmt.Sprint(v...))
}

func Infof(format string, v ...any) {
	enqueue(tag() + fmt.Sprintf(format, v...))
}

func Error(v ...any) {
	enqueue(tag() + "ERROR: " + fmt.Sprint(v...))
}

func Errorf(format string, v ...any) {
	enqueue(tag() + "ERROR: " + fmt.Sprintf(format, v...))
}

// Debugf logs only when LOG_LEVEL=debug.
func Debugf(format string, v ...any) {
	once.Do(initWorker)
	if logLevel == levelDebug {
		enqueue(tag() + fmt.Sprintf(format, v...))
	}
}

// LogDuration logs fn name and elapsed milliseconds. At info level only slow
// calls are recorded; at debug level every call is.
func LogDuration(fn string, start time.Time) {
	elapsed := time.Since(start)
	if logLevel == levelDebug || elapsed >= slowCallThreshold {
		enqueue(fmt.Sprintf("%sfn=%s duration_ms=%d", tag(), fn, elapsed.Milliseconds()))
	}
}

// DeferLogDuration is the defer-friendly form:
// defer logger.DeferLogDuration("room.Create", time.Now())().
func DeferLogDuration(fn string, start time.Time) func() {
	return func() { LogDuration(fn, start) }
}
