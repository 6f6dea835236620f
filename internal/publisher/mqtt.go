package publisher

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/jgoulah/drawalscraper/internal/config"
	"github.com/jgoulah/drawalscraper/pkg/models"
)

const publishTimeout = 10 * time.Second

// brokerClient is the part of mqtt.Client the publisher uses
type brokerClient interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	IsConnected() bool
	Disconnect(quiesce uint)
}

// Publisher sends stored schedules to an MQTT broker
type Publisher struct {
	client      brokerClient
	topicPrefix string
	log         zerolog.Logger
}

// BlockPayload is one time block in a published day
type BlockPayload struct {
	TimeBlock       int      `json:"time_block"`
	TimeRange       string   `json:"time_range"`
	ScheduledDrawal float64  `json:"scheduled_drawal"`
	ActualDrawal    *float64 `json:"actual_drawal,omitempty"`
	Deviation       *float64 `json:"deviation,omitempty"`
}

// DayPayload is the retained message for one DISCOM and date
type DayPayload struct {
	Discom      string         `json:"discom"`
	Date        string         `json:"date"`
	TotalDrawal float64        `json:"total_drawal"`
	Blocks      []BlockPayload `json:"blocks"`
	PublishedAt string         `json:"published_at"`
}

// New connects to the configured broker
func New(cfg config.MQTTConfig, log zerolog.Logger) (*Publisher, error) {
	if !cfg.Enabled {
		return nil, fmt.Errorf("MQTT publishing is not enabled in config")
	}
	if cfg.Broker == "" {
		return nil, fmt.Errorf("MQTT broker address is required when enabled")
	}

	clientID := cfg.ClientID
	if clientID == "" {
		clientID = "drawalscraper-" + uuid.NewString()[:8]
	}

	opts := mqtt.NewClientOptions()
	broker := cfg.Broker
	if !strings.Contains(broker, "://") {
		broker = "tcp://" + broker
	}
	opts.AddBroker(broker)
	opts.SetClientID(clientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectTimeout(10 * time.Second)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("connecting to MQTT broker: %w", token.Error())
	}
	log.Info().Str("broker", broker).Str("client_id", clientID).Msg("Connected to MQTT broker")

	return newPublisher(client, cfg.TopicPrefix, log), nil
}

func newPublisher(client brokerClient, prefix string, log zerolog.Logger) *Publisher {
	return &Publisher{client: client, topicPrefix: strings.TrimSuffix(prefix, "/"), log: log}
}

// Topic returns <prefix>/<discom>/<YYYY-MM-DD>
func (p *Publisher) Topic(discom string, date time.Time) string {
	return fmt.Sprintf("%s/%s/%s", p.topicPrefix, discom, date.Format(time.DateOnly))
}

// PublishDay sends one retained message holding every block of a DISCOM's day
func (p *Publisher) PublishDay(discom string, date time.Time, records []models.ScheduleRecord) error {
	payload := DayPayload{
		Discom:      discom,
		Date:        date.Format(time.DateOnly),
		Blocks:      make([]BlockPayload, 0, len(records)),
		PublishedAt: time.Now().UTC().Format(time.RFC3339),
	}
	for _, r := range records {
		payload.TotalDrawal += r.ScheduledDrawal
		payload.Blocks = append(payload.Blocks, BlockPayload{
			TimeBlock:       r.TimeBlock,
			TimeRange:       r.TimeRange,
			ScheduledDrawal: r.ScheduledDrawal,
			ActualDrawal:    r.ActualDrawal,
			Deviation:       r.Deviation,
		})
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encoding payload: %w", err)
	}

	topic := p.Topic(discom, date)
	token := p.client.Publish(topic, 1, true, body)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("publishing %s: timed out", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publishing %s: %w", topic, err)
	}

	p.log.Debug().Str("topic", topic).Int("blocks", len(records)).Msg("Published")
	return nil
}

// PublishAll groups records by date and DISCOM and publishes each group.
// Records must be ordered by date then DISCOM, as ListSchedules returns them.
func (p *Publisher) PublishAll(records []models.ScheduleRecord) (int, error) {
	published := 0
	for start := 0; start < len(records); {
		end := start + 1
		for end < len(records) &&
			records[end].DiscomName == records[start].DiscomName &&
			records[end].ScheduleDate.Equal(records[start].ScheduleDate) {
			end++
		}
		first := records[start]
		if err := p.PublishDay(first.DiscomName, first.ScheduleDate, records[start:end]); err != nil {
			return published, err
		}
		published++
		start = end
	}
	return published, nil
}

// Close disconnects from the MQTT broker
func (p *Publisher) Close() error {
	if p.client != nil && p.client.IsConnected() {
		p.client.Disconnect(250)
	}
	return nil
}
