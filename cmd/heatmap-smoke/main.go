package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/gorilla/websocket"
	"github.com/joho/godotenv"

	"github.com/Jinksi/heatmap-example/internal/cache/redisstore"
	"github.com/Jinksi/heatmap-example/internal/core/config"
	"github.com/Jinksi/heatmap-example/internal/core/httpclient"
	"github.com/Jinksi/heatmap-example/internal/events"
	"github.com/Jinksi/heatmap-example/internal/fetch"
	"github.com/Jinksi/heatmap-example/internal/livemap"
	h3mapper "github.com/Jinksi/heatmap-example/internal/mapper/h3"
)

func testRedis(ctx context.Context, addr string) error {
	fmt.Println("Redis test")
	c, err := redisstore.New(ctx, addr, redisstore.WithDialTimeout(2*time.Second))
	if err != nil {
		return err
	}
	defer func() { _ = c.Close() }()

	if err := c.Set(ctx, "heatmap:smoke", []byte("ok"), 30*time.Second); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	val, ok, err := c.Get(ctx, "heatmap:smoke")
	if err != nil {
		return fmt.Errorf("redis get: %w", err)
	}
	fmt.Printf("redis GET heatmap:smoke: %q (found=%v)\n", val, ok)
	return nil
}

func testDataEndpoint(ctx context.Context, cfg config.Config) error {
	fmt.Println("Data endpoint test")
	gw, err := fetch.New(nil, httpclient.NewOutbound(httpclient.Config{Timeout: 10 * time.Second}), fetch.Options{
		DataURL:   cfg.DataURL,
		StaticURL: cfg.StaticURL,
	})
	if err != nil {
		return err
	}
	if cfg.Mode == config.ModeDay {
		fc, err := gw.FetchStatic(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("static GET %s: %d features\n", cfg.StaticURL, len(fc.Features))
		return nil
	}
	fc, err := gw.FetchByCoordinates(ctx, cfg.Viewport.Latitude, cfg.Viewport.Longitude)
	if err != nil {
		return err
	}
	fmt.Printf("POST %s: %d features\n", cfg.DataURL, len(fc.Features))
	return nil
}

func testKafka(brokers []string, topic string) error {
	fmt.Println("Kafka test")

	sc := sarama.NewConfig()
	sc.Producer.Return.Successes = true
	sc.Version = sarama.V2_5_0_0
	prod, err := sarama.NewSyncProducer(brokers, sc)
	if err != nil {
		return fmt.Errorf("producer create: %w", err)
	}
	defer func() { _ = prod.Close() }()

	msg, _ := json.Marshal(events.Event{Type: events.TypeInteraction, Session: "smoke", TS: time.Now().UTC()})
	part, off, err := prod.SendMessage(&sarama.ProducerMessage{Topic: topic, Value: sarama.ByteEncoder(msg)})
	if err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	fmt.Printf("produced one event to partition %d offset %d\n", part, off)

	consumer, err := sarama.NewConsumer(brokers, sc)
	if err != nil {
		return fmt.Errorf("consumer create: %w", err)
	}
	defer func() { _ = consumer.Close() }()

	pc, err := consumer.ConsumePartition(topic, part, off)
	if err != nil {
		return fmt.Errorf("consume partition: %w", err)
	}
	defer func() { _ = pc.Close() }()

	select {
	case m := <-pc.Messages():
		fmt.Println("consumed:", string(m.Value))
	case <-time.After(5 * time.Second):
		fmt.Println("no message consumed (timeout)")
	}
	return nil
}

func testServer(ctx context.Context, url string) error {
	fmt.Println("Websocket test")
	d := websocket.Dialer{HandshakeTimeout: 3 * time.Second}
	conn, resp, err := d.DialContext(ctx, url, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	_ = resp.Body.Close()
	defer func() { _ = conn.Close() }()

	var first struct {
		Type string `json:"type"`
	}
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	if err := conn.ReadJSON(&first); err != nil {
		return fmt.Errorf("read: %w", err)
	}
	if first.Type != livemap.MsgConfig {
		return fmt.Errorf("first message %q, want %q", first.Type, livemap.MsgConfig)
	}
	fmt.Println("server sent map config")
	return nil
}

func demoH3(cfg config.Config) error {
	fmt.Println("H3 demo")
	m, err := h3mapper.New(cfg.Cache.H3Res)
	if err != nil {
		return err
	}
	cell, err := m.CellForPoint(cfg.Viewport.Latitude, cfg.Viewport.Longitude)
	if err != nil {
		return err
	}
	neighbors, err := m.Neighbors(cell, 1)
	if err != nil {
		return err
	}
	fmt.Printf("viewport centre cell (res %d): %s, neighbors: %d\n", m.Res(), cell, len(neighbors))
	return nil
}

func main() {
	envFile := flag.String("env", ".env", "dotenv file")
	serverURL := flag.String("server", "ws://localhost:8080/ws", "running heatmap server websocket URL; empty to skip")
	flag.Parse()
	_ = godotenv.Load(*envFile)

	cfg := config.FromEnv()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := testDataEndpoint(ctx, cfg); err != nil {
		fmt.Println("Data endpoint error:", err)
		return
	}
	if cfg.Cache.Enabled {
		if err := testRedis(ctx, cfg.Cache.RedisAddr); err != nil {
			fmt.Println("Redis error:", err)
			return
		}
	}
	if cfg.Events.Enabled {
		if err := testKafka(cfg.Events.Brokers, cfg.Events.Topic); err != nil {
			fmt.Println("Kafka error:", err)
			return
		}
	}
	if *serverURL != "" {
		if err := testServer(ctx, *serverURL); err != nil {
			fmt.Println("Server error:", err)
			return
		}
	}
	if err := demoH3(cfg); err != nil {
		fmt.Println("H3 error:", err)
		return
	}
	fmt.Println("All checks completed")
}
