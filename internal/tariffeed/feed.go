// Package tariffeed subscribes to the home broker's websocket bridge and
// forwards tariff notifications to the ledger. The bridge republishes retained
// broker topics as {"topic": "...", "value": "..."} text frames.
package tariffeed

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	appconfig "wattson/config"
	"wattson/logger"
	"wattson/models"
)

// Sink receives decoded tariff notifications. The ledger implements it.
type Sink interface {
	HandleTariffUpdate(topic, raw string) (prev, next models.TariffParams, accepted bool)
}

// Subscriber maintains one websocket connection to the tariff bridge. If the
// connection drops it is re-established automatically until the context is
// cancelled.
type Subscriber struct {
	config  *appconfig.Config
	sink    Sink
	ctx     context.Context
	wg      *sync.WaitGroup
	mu      sync.RWMutex
	running bool
	log     *logger.Log
}

func NewSubscriber(cfg *appconfig.Config, sink Sink) *Subscriber {
	return &Subscriber{
		config: cfg,
		sink:   sink,
		wg:     &sync.WaitGroup{},
		log:    logger.GetLogger(),
	}
}

// Start connects to the bridge and subscribes to the configured tariff
// topics.
func (s *Subscriber) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("tariff subscriber already running")
	}
	s.running = true
	s.ctx = ctx
	s.mu.Unlock()

	log := s.log.WithComponent("tariffeed").WithFields(logger.Fields{"operation": "Start"})
	if !s.config.Feed.Enabled {
		log.Warn("tariff feed is disabled")
		return fmt.Errorf("tariff feed is disabled")
	}

	log.WithFields(logger.Fields{"url": s.config.Feed.URL}).Info("starting tariff subscriber")
	s.wg.Add(1)
	go s.stream(s.config.Feed.URL)
	log.Info("tariff subscriber started successfully")
	return nil
}

// Stop terminates the subscription and waits for the stream goroutine.
func (s *Subscriber) Stop() {
	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
	s.log.WithComponent("tariffeed").Info("stopping tariff subscriber")
	s.wg.Wait()
	s.log.WithComponent("tariffeed").Info("tariff subscriber stopped")
}

func (s *Subscriber) topics() []string {
	t := s.config.Feed.Topics
	out := make([]string, 0, 4)
	for _, topic := range []string{t.SubscriptionPrice, t.OffPeakPrice, t.PeakPrice, t.BillingDay} {
		if topic != "" {
			out = append(out, topic)
		}
	}
	return out
}

// stream handles the websocket lifecycle, reconnection and forwarding.
func (s *Subscriber) stream(wsURL string) {
	defer s.wg.Done()
	log := s.log.WithComponent("tariffeed").WithFields(logger.Fields{"url": wsURL, "worker": "tariff_stream"})

	for {
		if s.ctx.Err() != nil {
			return
		}

		dialer := websocket.Dialer{}
		conn, _, err := dialer.Dial(wsURL, nil)
		if err != nil {
			log.WithError(err).Warn("failed to connect tariff bridge, retrying")
			select {
			case <-time.After(s.config.Feed.ReconnectDelay):
				continue
			case <-s.ctx.Done():
				return
			}
		}

		sub := map[string]interface{}{"op": "subscribe", "topics": s.topics()}
		if err := conn.WriteJSON(sub); err != nil {
			log.WithError(err).Warn("failed to subscribe")
			conn.Close()
			continue
		}

		pingTicker := time.NewTicker(20 * time.Second)
		done := make(chan struct{})
		go func() {
			defer pingTicker.Stop()
			for {
				select {
				case <-done:
					return
				case <-s.ctx.Done():
					conn.Close()
					return
				case <-pingTicker.C:
					conn.WriteMessage(websocket.PingMessage, nil)
				}
			}
		}()

		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				close(done)
				conn.Close()
				if s.ctx.Err() != nil {
					return
				}
				log.WithError(err).Warn("tariff bridge read error, reconnecting")
				break
			}
			s.processMessage(msg)
		}

		time.Sleep(time.Second)
	}
}

func (s *Subscriber) processMessage(msg []byte) {
	log := s.log.WithComponent("tariffeed")

	var frame struct {
		Event string `json:"event,omitempty"`
		Topic string `json:"topic"`
		Value string `json:"value"`
	}
	if err := json.Unmarshal(msg, &frame); err != nil {
		log.WithError(err).Debug("failed to decode tariff frame")
		return
	}
	// Subscription acks and bridge keepalives carry an event field only.
	if frame.Topic == "" {
		return
	}

	prev, next, accepted := s.sink.HandleTariffUpdate(frame.Topic, frame.Value)
	if accepted && prev != next {
		log.WithFields(logger.Fields{
			"topic": frame.Topic,
			"value": frame.Value,
		}).Info("tariff notification applied")
	}
}
