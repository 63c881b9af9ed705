package main

import (
	"log"
	"os"

	"tilestroke/internal/config"
	"tilestroke/internal/handler"
	"tilestroke/internal/ingest"
	"tilestroke/internal/protocol"
	"tilestroke/internal/query"
	"tilestroke/internal/registry"
	"tilestroke/internal/relay"
	"tilestroke/internal/server"
	"tilestroke/internal/store"
)

func main() {
	cfg := config.Load()

	st, err := store.Open(cfg.Store.DataDir)
	if err != nil {
		log.Fatalf("[main] store open failed: %v", err)
	}
	defer st.Close()

	reg := registry.New()
	hub := handler.NewHub()
	rl := relay.New(reg, hub, protocol.WireEncoder{})
	ing := ingest.New(st, rl, cfg.Store.MaxStoreBytes, cfg.Store.TileSize, cfg.Store.GzipLevel)
	q := query.New(st)

	httpHandler := handler.NewHTTPHandler(ing, q, st, cfg.Query.MaxBatchHTTP, cfg.Store.MaxStoreBytes, cfg.Store.GzipLevel, cfg.Store.TileSize)
	wsHandler := handler.NewWSHandler(reg, rl, ing, q, hub, cfg.Query.MaxBatchWS)

	srv := server.New(cfg, httpHandler, wsHandler)
	srv.SetupMiddleware()
	srv.SetupRoutes()

	if err := srv.Start(); err != nil {
		log.Printf("[main] server exited: %v", err)
		os.Exit(1)
	}
}
