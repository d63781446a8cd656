// relayd is a small single-process relay for local development: it stores a
// bounded window of events in memory and fans them out to subscribers.
package main

import (
	"net/http"

	log2 "github.com/piggypost/piggypost/pkg/log"

	"github.com/alexflint/go-arg"
)

var log = log2.GetStd()

type args struct {
	Listen    string `arg:"-l,--listen" default:"127.0.0.1:7447" help:"address to listen on"`
	MaxEvents int    `arg:"--max-events" default:"4096" help:"events kept in memory"`
	LogLevel  string `arg:"--loglevel" default:"info" help:"off/fatal/error/warn/info/debug/trace"`
}

func (args) Version() string { return "relayd 0.1.0" }

func main() {
	var a args
	arg.MustParse(&a)
	log2.SetLogLevelName(a.LogLevel)

	rl := NewRelay(a.MaxEvents)
	log.I.F("relayd listening on %s", a.Listen)
	log.Fail(http.ListenAndServe(a.Listen, rl))
}
