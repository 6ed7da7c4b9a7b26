// Package profiler exposes the runtime pprof handlers on a dedicated
// listener. It is opt-in and only ever wired up by binaries, never by the
// library itself.
package profiler

import (
	"log"
	"net/http"
	"net/http/pprof"
	"time"
)

// InitialiseProfiler starts a pprof HTTP server on address in the
// background. The handlers are mounted on a private mux so the default mux
// stays untouched for the host application.
func InitialiseProfiler(address string) {
	mux := http.NewServeMux()
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)

	go func() {
		server := &http.Server{
			Addr:         address,
			Handler:      mux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		}
		log.Println(server.ListenAndServe())
	}()
}
