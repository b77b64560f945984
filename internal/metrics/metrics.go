package metrics

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/bigbag/tunslip/internal/bridge"
)

const namespace = "tunslip"

// Register exposes the counters returned by stats on reg. stats is called
// on every scrape, so it must be safe for concurrent use; Bridge.Stats is.
func Register(reg prometheus.Registerer, link string, stats func() bridge.Stats) error {
	labels := prometheus.Labels{"link": link}
	counter := func(subsystem, name, help string, value func(bridge.Stats) uint64) prometheus.Collector {
		return prometheus.NewCounterFunc(
			prometheus.CounterOpts{
				Namespace:   namespace,
				Subsystem:   subsystem,
				Name:        name,
				Help:        help,
				ConstLabels: labels,
			},
			func() float64 { return float64(value(stats())) },
		)
	}

	collectors := []prometheus.Collector{
		counter("transport", "received_bytes_total", "Bytes read from the link.",
			func(s bridge.Stats) uint64 { return s.TransportBytesIn }),
		counter("transport", "sent_bytes_total", "Bytes of SLIP frames written to the link.",
			func(s bridge.Stats) uint64 { return s.TransportBytesOut }),
		counter("transport", "write_errors_total", "Failed writes to the link.",
			func(s bridge.Stats) uint64 { return s.TransportWriteErrors }),
		counter("device", "packets_written_total", "Packets delivered to the interface.",
			func(s bridge.Stats) uint64 { return s.PacketsToDevice }),
		counter("device", "packets_read_total", "Packets read from the interface and sent on the link.",
			func(s bridge.Stats) uint64 { return s.PacketsToTransport }),
		counter("device", "write_errors_total", "Failed writes to the interface.",
			func(s bridge.Stats) uint64 { return s.DeviceWriteErrors }),
		counter("slip", "dropped_frames_total", "Frames dropped as oversized or overrun.",
			func(s bridge.Stats) uint64 { return s.DroppedFrames }),
		counter("slip", "malformed_escapes_total", "ESC bytes followed by an unknown code.",
			func(s bridge.Stats) uint64 { return s.MalformedEscapes }),
	}

	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return fmt.Errorf("register metrics: %w", err)
		}
	}
	return nil
}

// Serve answers /metrics on addr until ctx is done.
func Serve(ctx context.Context, addr string, gatherer prometheus.Gatherer, log zerolog.Logger) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("metrics listen %s: %w", addr, err)
	}
	return serve(ctx, ln, gatherer, log)
}

func serve(ctx context.Context, ln net.Listener, gatherer prometheus.Gatherer, log zerolog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	log.Info().Str("addr", ln.Addr().String()).Msg("metrics listening")
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics server: %w", err)
	}
	return nil
}
