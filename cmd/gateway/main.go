// GameCloud API Gateway.
//
// Fronts the queue-consuming microservice fleet with a uniform REST
// surface: authenticates callers against Keycloak, authorizes them
// against the configured routing policy, rewrites each request into a
// bus envelope, and performs a correlated request/reply RPC over
// RabbitMQ.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/gamecloud/gateway/pkg/server"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	log.Info().Msg("GameCloud gateway starting")

	ctx := context.Background()
	srv, err := server.New(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize gateway")
	}
	defer srv.Bus.Close()
	defer srv.ShutdownFunc(ctx)

	if path := srv.Config.LoggerSettings.FilePath; path != "" {
		file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			log.Fatal().Err(err).Str("path", path).Msg("Failed to open log file")
		}
		defer file.Close()
		log.Logger = log.Output(zerolog.MultiLevelWriter(
			zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339},
			file,
		))
	}

	httpServer := &http.Server{
		Addr:         srv.Config.Listen.HTTPAddr,
		Handler:      srv.Handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	var tlsServer *http.Server
	if srv.Config.Listen.TLSCert != "" && srv.Config.Listen.TLSKey != "" {
		tlsServer = &http.Server{
			Addr:         srv.Config.Listen.HTTPSAddr,
			Handler:      srv.Handler,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 60 * time.Second,
			IdleTimeout:  120 * time.Second,
		}
	} else {
		log.Info().Msg("TLS certificate not configured; serving plain HTTP only")
	}

	// Graceful shutdown: the signal goroutine drains both listeners and
	// closes drained once every in-flight request has finished, so main
	// does not tear down the bus while responses are still being written.
	drained := make(chan struct{})
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Info().Msg("Shutting down gracefully")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		servers := []*http.Server{httpServer}
		if tlsServer != nil {
			servers = append(servers, tlsServer)
		}
		drainServers(shutdownCtx, servers...)
		close(drained)
	}()

	errChan := make(chan error, 2)
	go func() {
		log.Info().Str("addr", httpServer.Addr).Msg("HTTP listener up")
		errChan <- httpServer.ListenAndServe()
	}()
	if tlsServer != nil {
		go func() {
			log.Info().Str("addr", tlsServer.Addr).Msg("HTTPS listener up")
			errChan <- tlsServer.ListenAndServeTLS(srv.Config.Listen.TLSCert, srv.Config.Listen.TLSKey)
		}()
	}

	// ErrServerClosed only happens after Shutdown was initiated, so the
	// drain is guaranteed to complete and close the channel.
	if err := <-errChan; !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Msg("Gateway listener failed")
	}
	<-drained
	log.Info().Msg("Gateway stopped")
}

// drainServers shuts the listeners down concurrently and returns once
// every in-flight request has completed or ctx expires.
func drainServers(ctx context.Context, servers ...*http.Server) {
	var wg sync.WaitGroup
	for _, s := range servers {
		s := s
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Shutdown(ctx)
		}()
	}
	wg.Wait()
}
