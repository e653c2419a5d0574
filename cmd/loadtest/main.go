// Command loadtest connects many clients to one room and measures how fast
// messages fan out between them.
package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/aeolun/roomchat/pkg/client"
	"github.com/aeolun/roomchat/pkg/protocol"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const loremIpsum = "Lorem ipsum dolor sit amet, consectetur adipiscing elit, sed do eiusmod tempor incididunt ut labore et dolore magna aliqua. Ut enim ad minim veniam, quis nostrud exercitation ullamco laboris nisi ut aliquip ex ea commodo consequat."

var loremWords = strings.Fields(loremIpsum)

var log zerolog.Logger

// Stats tracks performance metrics
type Stats struct {
	messagesSent      atomic.Int64
	messagesReceived  atomic.Int64
	sendFailures      atomic.Int64
	totalLatency      atomic.Int64 // in microseconds
	connectionErrors  atomic.Int64
	successfulClients atomic.Int64
	disconnections    atomic.Int64
	serverErrors      atomic.Int64

	// Setup failure breakdown
	handshakeFailed atomic.Int64
	joinFailed      atomic.Int64
}

func (s *Stats) recordReceived(latencyUs int64) {
	s.messagesReceived.Add(1)
	s.totalLatency.Add(latencyUs)
}

func (s *Stats) snapshot() (sent, received, failed int64, avgLatencyUs float64) {
	sent = s.messagesSent.Load()
	received = s.messagesReceived.Load()
	failed = s.sendFailures.Load()
	if received > 0 {
		avgLatencyUs = float64(s.totalLatency.Load()) / float64(received)
	}
	return
}

// getCPULoad returns the 1-minute load average
func getCPULoad() float64 {
	data, err := os.ReadFile("/proc/loadavg")
	if err != nil {
		return 0
	}
	var load1 float64
	fmt.Sscanf(string(data), "%f", &load1)
	return load1
}

// randomText builds a message whose first token is the send time, so
// receivers can measure fan-out latency.
func randomText() string {
	n := 3 + rand.Intn(10)
	words := make([]string, n)
	for i := range words {
		words[i] = loremWords[rand.Intn(len(loremWords))]
	}
	return strconv.FormatInt(time.Now().UnixMicro(), 10) + " " + strings.Join(words, " ")
}

// BotClient is one simulated user.
type BotClient struct {
	id     int
	name   string
	room   string
	client *client.Client
	stats  *Stats
}

func NewBotClient(id int, addr, room string, stats *Stats) (*BotClient, error) {
	c, err := client.Dial(addr, client.Options{DialTimeout: 10 * time.Second})
	if err != nil {
		return nil, err
	}
	return &BotClient{
		id:     id,
		name:   "lt-" + uuid.NewString()[:8],
		room:   room,
		client: c,
		stats:  stats,
	}, nil
}

// Setup registers the user and puts it in the room. The first client to
// find the room missing creates it.
func (bc *BotClient) Setup() error {
	if err := bc.client.Handshake(bc.name, 10*time.Second); err != nil {
		bc.stats.handshakeFailed.Add(1)
		return fmt.Errorf("handshake: %w", err)
	}

	for attempt := 0; attempt < 3; attempt++ {
		if err := bc.client.SendCommand(protocol.JoinRoom{Room: bc.room}); err != nil {
			return err
		}
		reply, err := bc.readReply()
		if err != nil {
			return err
		}
		switch {
		case client.IsKeyword(reply, protocol.ReplyJoined):
			return nil
		case reply == protocol.Erro(protocol.MsgRoomNotFound):
			if err := bc.client.SendCommand(protocol.CreateRoom{Room: bc.room}); err != nil {
				return err
			}
			reply, err := bc.readReply()
			if err != nil {
				return err
			}
			if reply == protocol.ReplyCreated {
				return nil
			}
			// Lost the race to another client; join on the next attempt
		default:
			bc.stats.joinFailed.Add(1)
			return fmt.Errorf("join rejected: %s", reply)
		}
	}
	bc.stats.joinFailed.Add(1)
	return fmt.Errorf("could not join %s", bc.room)
}

// readReply skips notices that arrive while waiting for a reply.
func (bc *BotClient) readReply() (string, error) {
	for {
		line, err := bc.client.ReadLine(10 * time.Second)
		if err != nil {
			return "", err
		}
		if !client.IsKeyword(line, protocol.NoticeEntered) && !client.IsKeyword(line, protocol.NoticeMessage) {
			return line, nil
		}
	}
}

// receive counts incoming messages until the connection closes.
func (bc *BotClient) receive() {
	for {
		line, err := bc.client.ReadLine(0)
		if err != nil {
			return
		}
		switch {
		case client.IsKeyword(line, protocol.NoticeMessage):
			fields := strings.Fields(line)
			if len(fields) < 4 {
				continue
			}
			sentAt, err := strconv.ParseInt(fields[3], 10, 64)
			if err != nil {
				continue
			}
			bc.stats.recordReceived(time.Now().UnixMicro() - sentAt)
		case client.IsKeyword(line, protocol.ReplyError):
			bc.stats.serverErrors.Add(1)
			log.Debug().Int("bot", bc.id).Str("line", line).Msg("server error")
		case client.IsKeyword(line, protocol.NoticeRoomClosed):
			log.Warn().Int("bot", bc.id).Msg("room closed under us")
		}
	}
}

func (bc *BotClient) Run(ctx context.Context, duration, minDelay, maxDelay time.Duration) {
	defer bc.client.Close()
	defer func() {
		if r := recover(); r != nil {
			log.Error().Int("bot", bc.id).Interface("panic", r).Msg("PANIC")
		}
	}()

	go bc.receive()

	timer := time.NewTimer(duration)
	defer timer.Stop()
	for {
		err := bc.client.SendCommand(protocol.SendMessage{Room: bc.room, Text: randomText()})
		if err != nil {
			bc.stats.sendFailures.Add(1)
			bc.stats.disconnections.Add(1)
			return
		}
		bc.stats.messagesSent.Add(1)

		delay := minDelay
		if maxDelay > minDelay {
			delay += time.Duration(rand.Int63n(int64(maxDelay - minDelay)))
		}
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			return
		case <-time.After(delay):
		}
	}
}

func main() {
	serverAddr := flag.String("server", "tcp://localhost:8888", "Server address")
	room := flag.String("room", "carga", "Room every client joins")
	numClients := flag.Int("clients", 10, "Number of concurrent clients")
	duration := flag.Duration("duration", 1*time.Minute, "Test duration")
	minDelay := flag.Duration("min-delay", 100*time.Millisecond, "Minimum delay between messages")
	maxDelay := flag.Duration("max-delay", 1*time.Second, "Maximum delay between messages")
	debug := flag.Bool("debug", false, "Log every server error")
	flag.Parse()

	level := zerolog.InfoLevel
	if *debug {
		level = zerolog.DebugLevel
	}
	log = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.TimeOnly}).
		Level(level).With().Timestamp().Logger()

	// Ramp up over 25% of the test duration
	rampUp := *duration / 4
	staggerDelay := rampUp / time.Duration(max(*numClients, 1))
	if staggerDelay < time.Millisecond {
		staggerDelay = time.Millisecond
	}

	log.Info().
		Str("server", *serverAddr).
		Str("room", *room).
		Int("clients", *numClients).
		Dur("duration", *duration).
		Dur("ramp_up", rampUp).
		Msg("starting load test")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	stats := &Stats{}
	var wg sync.WaitGroup

	stopStats := make(chan struct{})
	go func() {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		start := time.Now()
		for {
			select {
			case <-ticker.C:
				sent, received, failed, avgUs := stats.snapshot()
				elapsed := time.Since(start).Seconds()
				log.Info().
					Int64("sent", sent).
					Float64("sent_per_sec", float64(sent)/elapsed).
					Int64("received", received).
					Int64("failed", failed).
					Float64("avg_latency_ms", avgUs/1000).
					Float64("load", getCPULoad()).
					Int("goroutines", runtime.NumGoroutine()).
					Msg("stats")
			case <-stopStats:
				return
			}
		}
	}()

spawn:
	for i := 0; i < *numClients; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()

			bot, err := NewBotClient(id, *serverAddr, *room, stats)
			if err != nil {
				stats.connectionErrors.Add(1)
				log.Debug().Err(err).Int("bot", id).Msg("connect failed")
				return
			}
			if err := bot.Setup(); err != nil {
				stats.connectionErrors.Add(1)
				log.Debug().Err(err).Int("bot", id).Msg("setup failed")
				bot.client.Close()
				return
			}
			stats.successfulClients.Add(1)
			if id%100 == 0 {
				log.Info().Int("bot", id).Str("name", bot.name).Msg("connected")
			}
			bot.Run(ctx, *duration, *minDelay, *maxDelay)
		}(i)

		select {
		case <-ctx.Done():
			break spawn
		case <-time.After(staggerDelay):
		}
	}

	wg.Wait()
	close(stopStats)

	sent, received, failed, avgUs := stats.snapshot()
	successful := stats.successfulClients.Load()
	log.Info().
		Int("attempted", *numClients).
		Int64("successful", successful).
		Int64("connection_errors", stats.connectionErrors.Load()).
		Int64("handshake_failed", stats.handshakeFailed.Load()).
		Int64("join_failed", stats.joinFailed.Load()).
		Msg("clients")
	log.Info().
		Int64("sent", sent).
		Int64("send_failures", failed).
		Int64("disconnections", stats.disconnections.Load()).
		Int64("server_errors", stats.serverErrors.Load()).
		Int64("received", received).
		Float64("avg_latency_ms", avgUs/1000).
		Msg("messages")

	// Every message fans out to all other members
	if sent > 0 && successful > 1 {
		expected := float64(sent) * float64(successful-1)
		log.Info().Float64("delivery_pct", float64(received)/expected*100).Msg("fan-out")
	}
}
