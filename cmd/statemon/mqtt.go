package main

import (
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/joeycumines/logiface"
)

const mqttDisconnectQuiesce = 250

type (
	// publisher is the subset of mqtt.Client used by the mirror.
	publisher interface {
		Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	}

	// mirror republishes notifications as JSON, retaining the latest state,
	// and facts.
	mirror struct {
		client publisher
		logger *logiface.Logger[logiface.Event]
		prefix string
		close  func()
	}

	statePayload struct {
		State string `json:"state"`
	}

	transitionPayload struct {
		From string    `json:"from"`
		To   string    `json:"to"`
		Time time.Time `json:"time"`
	}

	runPayload struct {
		RunNumber int `json:"run_number"`
	}

	titlePayload struct {
		Title string `json:"title"`
	}

	recordingPayload struct {
		Recording bool `json:"recording"`
	}
)

func dialMirror(cfg MQTTConfig, logger *logiface.Logger[logiface.Event]) (*mirror, error) {
	options := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetKeepAlive(30 * time.Second).
		SetMaxReconnectInterval(2 * time.Minute)
	client := mqtt.NewClient(options)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf(`mqtt %s: %w`, cfg.Broker, token.Error())
	}
	logger.Info().
		Str(`broker`, cfg.Broker).
		Str(`topic_prefix`, cfg.TopicPrefix).
		Log(`mirroring to mqtt`)
	return &mirror{
		client: client,
		logger: logger,
		prefix: cfg.TopicPrefix,
		close:  func() { client.Disconnect(mqttDisconnectQuiesce) },
	}, nil
}

func (x *mirror) State(from, to string) {
	x.publish(`state`, true, statePayload{State: to})
	x.publish(`transition`, false, transitionPayload{From: from, To: to, Time: time.Now().UTC()})
}

func (x *mirror) RunNumber(runNumber int) {
	x.publish(`run`, true, runPayload{RunNumber: runNumber})
}

func (x *mirror) Title(title string) {
	x.publish(`title`, true, titlePayload{Title: title})
}

func (x *mirror) Recording(recording bool) {
	x.publish(`recording`, true, recordingPayload{Recording: recording})
}

func (x *mirror) Close() {
	if x.close != nil {
		x.close()
	}
}

// publish does not wait for the broker, failures are logged.
func (x *mirror) publish(subtopic string, retained bool, payload any) {
	topic := x.prefix + `/` + subtopic
	data, err := json.Marshal(payload)
	if err != nil {
		x.logger.Err().
			Err(err).
			Str(`topic`, topic).
			Log(`failed to encode mqtt payload`)
		return
	}
	token := x.client.Publish(topic, 1, retained, data)
	go func() {
		<-token.Done()
		if err := token.Error(); err != nil {
			x.logger.Warning().
				Err(err).
				Str(`topic`, topic).
				Log(`mqtt publish failed`)
		}
	}()
}
