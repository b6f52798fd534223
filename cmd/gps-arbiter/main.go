package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"gps-arbiter/internal/config"
	"gps-arbiter/internal/elevation"
	"gps-arbiter/internal/feed"
	"gps-arbiter/internal/gpsd"
	"gps-arbiter/internal/mqttpub"
	"gps-arbiter/internal/udp"
	"gps-arbiter/internal/web"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "./dev.yaml", "Path to YAML config")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var cache *elevation.Cache
	if cfg.Elevation.Enable {
		ecfg := elevation.CacheConfig{
			Client:          elevation.NewOpenElevation(cfg.Elevation.URL, cfg.Elevation.Timeout),
			PrefetchRadiusM: cfg.Elevation.PrefetchRadiusM,
		}
		if cfg.Elevation.Persist {
			if err := elevation.EnsureDir(cfg.Elevation.CachePath); err != nil {
				log.Fatalf("elevation cache dir init failed: %v", err)
			}
			ecfg.Path = cfg.Elevation.CachePath
		}
		cache = elevation.NewCache(ecfg)
	}

	f := feed.New(feed.Config{
		PreferredDevice: cfg.Arbiter.PreferredDevice,
		UpdateTimeout:   cfg.Arbiter.UpdateTimeout,
		FixTimeout:      cfg.Arbiter.FixTimeout,
		SweepInterval:   cfg.Arbiter.SweepInterval,
		AugmentTimeout:  cfg.Elevation.Timeout,
	}, cache)

	if cfg.UDP.Enable {
		sink, err := udp.NewSink(cfg.UDP.Dest)
		if err != nil {
			log.Fatalf("udp sink init failed: %v", err)
		}
		defer sink.Close()
		f.AddObserver(sink)
		log.Printf("udp dest=%s", cfg.UDP.Dest)
	}

	if cfg.MQTT.Enable {
		pub, err := mqttpub.New(mqttpub.Config{
			Broker:   cfg.MQTT.Broker,
			ClientID: cfg.MQTT.ClientID,
			Topic:    cfg.MQTT.Topic,
		})
		if err != nil {
			log.Fatalf("mqtt init failed: %v", err)
		}
		defer pub.Close()
		f.AddObserver(pub)
	}

	var broadcaster *web.PositionBroadcaster
	if cfg.Web.Enable {
		broadcaster = web.NewPositionBroadcaster()
		f.AddObserver(broadcaster)
	}

	client := gpsd.NewClient(gpsd.Config{Addr: cfg.GPSD.Addr}, f.Ingest)
	if err := client.Start(ctx); err != nil {
		log.Fatalf("gpsd client start failed: %v", err)
	}
	defer client.Close()

	log.Printf("gps-arbiter starting")
	log.Printf("gpsd addr=%s preferred_device=%q", cfg.GPSD.Addr, cfg.Arbiter.PreferredDevice)

	go func() {
		if err := f.Run(ctx); err != nil && ctx.Err() == nil {
			log.Printf("feed stopped: %v", err)
			cancel()
		}
	}()

	if cfg.Web.Enable {
		h := web.Handler(web.Options{
			Feed:        f,
			Broadcaster: broadcaster,
			GPSDAddr:    cfg.GPSD.Addr,
			GPSDError: client.LastError,
			ElevationEntries: func() int {
				if cache == nil {
					return 0
				}
				return cache.Len()
			},
		})
		go func() {
			log.Printf("web listen=%s", cfg.Web.Listen)
			if err := web.Serve(ctx, cfg.Web.Listen, h); err != nil && ctx.Err() == nil {
				log.Printf("web server stopped: %v", err)
				cancel()
			}
		}()
	}

	<-ctx.Done()
	log.Printf("gps-arbiter stopping")
}
