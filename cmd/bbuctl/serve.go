package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli/v2"

	"github.com/nvbbu/bbucache/backend"
	"github.com/nvbbu/bbucache/cache"
	"github.com/nvbbu/bbucache/internal/logutil"
	"github.com/nvbbu/bbucache/manager"
	"github.com/nvbbu/bbucache/region"
)

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "activate a cache over an existing region and serve it",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "backing-file", Required: true},
			&cli.StringFlag{Name: "backend", Value: "mem"},
			&cli.StringFlag{Name: "backend-path"},
			&cli.IntFlag{Name: "stripe-members", Value: 1},
			&cli.Uint64Flag{Name: "stripe-sectors", Value: 0},
			&cli.StringFlag{Name: "listen", Value: "127.0.0.1:8686"},
		},
		Action: runServe,
	}
}

func runServe(ctx *cli.Context) error {
	log := logutil.New("component", "bbuctl-serve")

	path := ctx.String("backing-file")
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("bbuctl serve: %w", err)
	}
	hdrBuf := make([]byte, region.HeaderSize)
	if _, err := f.Read(hdrBuf); err != nil {
		f.Close()
		return fmt.Errorf("bbuctl serve: read header: %w", err)
	}
	f.Close()
	h, err := region.UnmarshalHeader(hdrBuf)
	if err != nil {
		return err
	}
	if err := h.Validate(); err != nil {
		return fmt.Errorf("bbuctl serve: %w", err)
	}

	nv, err := region.OpenMmapRegion(path, h, false)
	if err != nil {
		return err
	}

	var be backend.BackingDevice
	switch ctx.String("backend") {
	case "mem":
		be = backend.NewMemBackend(region.SectorSize)
	case "pebble":
		be, err = backend.OpenPebbleBackend(ctx.String("backend-path"), region.SectorSize)
	case "leveldb":
		be, err = backend.OpenLevelDBBackend(ctx.String("backend-path"), region.SectorSize)
	default:
		err = fmt.Errorf("bbuctl serve: unknown --backend %q", ctx.String("backend"))
	}
	if err != nil {
		nv.Close()
		return err
	}

	mgr := manager.New(nv.Header().StartPFN, nv.Layout().TotalPages())

	cfg := cache.Config{
		Region:     nv,
		Backend:    be,
		CopyEngine: backend.NewAsyncCopyEngine(),
		Geometry: cache.Geometry{
			StripeMembers: ctx.Int("stripe-members"),
			StripeSectors: ctx.Uint64("stripe-sectors"),
		},
		Name: h.NameString(),
	}
	id, err := mgr.Register(h, nv, cfg)
	if err != nil {
		nv.Close()
		be.Close()
		return err
	}
	log.Info("cache activated", "uuid", id, "backend", ctx.String("backend"))

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		fields := []string{"state", "size", "meta_pfn", "uuid", "order", "active", "pfn", "dirty", "writeback", "entry_count"}
		out := map[string]string{}
		for _, field := range fields {
			v, err := mgr.Get(id, field)
			if err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
			out[field] = v
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(out)
	})
	mux.HandleFunc("/set", func(w http.ResponseWriter, r *http.Request) {
		field := r.URL.Query().Get("field")
		value := r.URL.Query().Get("value")
		if err := mgr.Set(id, field, value); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	srv := &http.Server{Addr: ctx.String("listen"), Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("http server exited", "err", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	log.Info("shutting down")
	_ = mgr.Unregister(id)
	return srv.Close()
}
