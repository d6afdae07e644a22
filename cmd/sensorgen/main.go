package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"math"
	"math/rand"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"safekitchen/services"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

var (
	rps        = flag.Int("rps", 1, "Readings payloads per second")
	userID     = flag.String("user", "demo-user", "User the simulated kitchen belongs to")
	leak       = flag.Float64("leak", 0.05, "Probability of starting a gas leak episode (0.0-1.0)")
	child      = flag.Float64("child", 0.02, "Probability of a child being detected per payload")
	mqttBroker = flag.String("broker", "localhost:1883", "MQTT broker address (host:port)")
	mqttUser   = flag.String("mqtt-user", "", "MQTT username")
	mqttPass   = flag.String("mqtt-pass", "", "MQTT password")
	prefix     = flag.String("prefix", "kitchen", "Topic prefix")
)

// KitchenSimulator produces ESP32-style payloads with occasional gas leak
// episodes that ramp up and decay.
type KitchenSimulator struct {
	leakProbability  float64
	childProbability float64
	gas              float64
	temp             float64
	leaking          bool
}

func NewKitchenSimulator(leakProb, childProb float64) *KitchenSimulator {
	return &KitchenSimulator{
		leakProbability:  leakProb,
		childProbability: childProb,
		gas:              10,
		temp:             28,
	}
}

// Next returns the next payload
func (k *KitchenSimulator) Next() services.BridgeMetrics {
	if !k.leaking && rand.Float64() < k.leakProbability {
		k.leaking = true
	}

	if k.leaking {
		k.gas += 5 + rand.Float64()*10
		k.temp += rand.Float64() * 2
		if k.gas > 90 {
			k.leaking = false
		}
	} else {
		k.gas = math.Max(5, k.gas*0.8+rand.Float64()*2)
		k.temp = math.Max(24, k.temp-0.5+rand.Float64())
	}

	fire := 0.0
	if k.temp > 55 && rand.Float64() < 0.3 {
		fire = 1
	}
	co := math.Round(k.gas*0.4*10) / 10

	m := services.BridgeMetrics{
		Fire: fire,
		Gas:  math.Round(k.gas*10) / 10,
		Temp: math.Round(k.temp*10) / 10,
		CO:   &co,
	}
	if rand.Float64() < k.childProbability {
		one := 1.0
		m.Child = &one
	}
	return m
}

func main() {
	flag.Parse()

	// Initialize logger
	logger, _ := zap.NewDevelopment()
	defer logger.Sync()

	topicBase := fmt.Sprintf("%s/%s", strings.Trim(*prefix, "/"), *userID)
	readingsTopic := topicBase + "/readings"
	statusTopic := topicBase + "/status"
	bridgeID := "sim-" + *userID

	logger.Info("Kitchen sensor simulator started",
		zap.String("user_id", *userID),
		zap.Int("rps", *rps),
		zap.Float64("leak_probability", *leak),
		zap.String("mqtt_broker", *mqttBroker),
		zap.String("topic", readingsTopic),
	)
	logger.Info("Press Ctrl+C to stop gracefully")

	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s", *mqttBroker))
	opts.SetClientID(fmt.Sprintf("%s-%d", bridgeID, time.Now().UnixNano()))
	opts.SetUsername(*mqttUser)
	opts.SetPassword(*mqttPass)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetAutoReconnect(true)

	opts.OnConnect = func(client mqtt.Client) {
		logger.Info("Connected to MQTT broker", zap.String("broker", *mqttBroker))
	}
	opts.OnConnectionLost = func(client mqtt.Client, err error) {
		logger.Error("MQTT connection lost", zap.Error(err))
	}

	mqttClient := mqtt.NewClient(opts)
	if token := mqttClient.Connect(); token.Wait() && token.Error() != nil {
		logger.Fatal("Failed to connect to MQTT broker", zap.Error(token.Error()))
	}
	defer mqttClient.Disconnect(250)

	sim := NewKitchenSimulator(*leak, *child)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("Shutdown signal received, stopping simulator")
		cancel()
	}()

	if *rps <= 0 {
		*rps = 1
	}
	ticker := time.NewTicker(time.Second / time.Duration(*rps))
	defer ticker.Stop()

	// Heartbeats keep the service's bridge health check green
	statusTicker := time.NewTicker(10 * time.Second)
	defer statusTicker.Stop()

	startTime := time.Now()
	messageCount := 0

	publish := func(topic string, v any) {
		body, err := json.Marshal(v)
		if err != nil {
			logger.Error("Failed to marshal payload", zap.Error(err))
			return
		}
		token := mqttClient.Publish(topic, 0, false, body)
		if token.Wait() && token.Error() != nil {
			logger.Error("Failed to publish MQTT message", zap.String("topic", topic), zap.Error(token.Error()))
			return
		}
		logger.Debug("Published MQTT message", zap.String("topic", topic), zap.ByteString("payload", body))
	}

	for {
		select {
		case <-ctx.Done():
			logger.Info("Simulator stopped",
				zap.Int("total_messages", messageCount),
				zap.Duration("uptime", time.Since(startTime)))
			return

		case <-ticker.C:
			publish(readingsTopic, sim.Next())
			messageCount++
			if messageCount%100 == 0 {
				logger.Info("Readings published",
					zap.Int("count", messageCount),
					zap.Float64("rate", float64(messageCount)/time.Since(startTime).Seconds()))
			}

		case <-statusTicker.C:
			publish(statusTopic, map[string]any{
				"bridge_id":      bridgeID,
				"wifi_connected": true,
				"uptime_ms":      time.Since(startTime).Milliseconds(),
			})
		}
	}
}
